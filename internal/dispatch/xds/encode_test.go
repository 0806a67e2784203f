package xds

import (
	"testing"

	clusterv3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	listenerv3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	"github.com/stretchr/testify/require"

	"github.com/l7mp/l7mp-operator/internal/model"
)

func TestEncodeListenerName(t *testing.T) {
	payload, err := EncodeListener(model.FQN("/v1/VirtualService/default/v1"), map[string]interface{}{"port": int64(8080)})
	require.NoError(t, err)

	var l listenerv3.Listener
	require.NoError(t, payload.UnmarshalTo(&l))
	require.Equal(t, "/v1/VirtualService/default/v1-l", l.Name)

	addr := l.GetAddress().GetSocketAddress()
	require.EqualValues(t, 8080, addr.GetPortValue())
	require.Equal(t, corev3.SocketAddress_UDP, addr.GetProtocol())
}

func TestEncodeListenerAcceptsFloatPort(t *testing.T) {
	payload, err := EncodeListener(model.FQN("/v1/VirtualService/default/v1"), map[string]interface{}{"port": float64(9090)})
	require.NoError(t, err)

	var l listenerv3.Listener
	require.NoError(t, payload.UnmarshalTo(&l))
	require.EqualValues(t, 9090, l.GetAddress().GetSocketAddress().GetPortValue())
}

func TestEncodeClusterStaticAndSelectorEndpoints(t *testing.T) {
	upstreams := []upstreamAddress{
		{Address: "10.0.0.1", Port: 1000},
		{Address: "10.0.0.2", Port: 1000, Selector: true},
	}
	payload, err := EncodeCluster(model.FQN("/v1/Target/default/t1"), upstreams)
	require.NoError(t, err)

	var c clusterv3.Cluster
	require.NoError(t, payload.UnmarshalTo(&c))
	require.Equal(t, "/v1/Target/default/t1", c.Name)
	require.Equal(t, clusterv3.Cluster_MAGLEV, c.LbPolicy)

	lbEndpoints := c.GetLoadAssignment().GetEndpoints()[0].GetLbEndpoints()
	require.Len(t, lbEndpoints, 2)
	require.Nil(t, lbEndpoints[0].GetMetadata(), "expected the static endpoint to carry no metadata")

	selectorEp := lbEndpoints[1]
	require.NotNil(t, selectorEp.GetMetadata(), "expected the selector-derived endpoint to carry hash_key metadata")

	hashKey := selectorEp.GetMetadata().GetFilterMetadata()["envoy.lb"].GetFields()["hash_key"].GetStringValue()
	require.Equal(t, "10.0.0.2", hashKey)
	require.EqualValues(t, healthCheckPort, selectorEp.GetEndpoint().GetHealthCheckConfig().GetPortValue())
}
