package xds

import (
	"fmt"
	"time"

	clusterv3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpointv3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listenerv3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	udpproxyv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/udp/udp_proxy/v3"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/l7mp/l7mp-operator/internal/model"
)

const (
	healthCheckPort = 1233
	udpProxyFilter  = "envoy.filters.udp_listener.udp_proxy"
)

const connectTimeout = time.Second

// setHashKeyMetadata sets metadata.filter_metadata["envoy.lb"]["hash_key"]
// on a selector-derived endpoint.
func setHashKeyMetadata(md *corev3.Metadata, address string) {
	md.FilterMetadata["envoy.lb"] = &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"hash_key": structpb.NewStringValue(address),
		},
	}
}

// listenerName and clusterRefName derive the Listener/Cluster resource names
// from a VirtualService's FQN by suffixing -l and -c respectively.
func listenerName(vsvcFQN model.FQN) string { return string(vsvcFQN) + "-l" }
func clusterRefName(vsvcFQN model.FQN) string { return string(vsvcFQN) + "-c" }

// EncodeListener builds the Listener proto for a vsvc Action's spec
// (action.spec.listener.spec: {port}) and packs it into an Any, ready to be
// pushed as a Delta LDS resource.
func EncodeListener(vsvcFQN model.FQN, listenerSpec map[string]interface{}) (*anypb.Any, error) {
	port, _ := listenerSpec["port"].(int64)
	if port == 0 {
		if f, ok := listenerSpec["port"].(float64); ok {
			port = int64(f)
		}
	}

	udpConfig := &udpproxyv3.UdpProxyConfig{
		StatPrefix: listenerName(vsvcFQN),
		ClusterSpecifier: &udpproxyv3.UdpProxyConfig_Cluster{
			Cluster: clusterRefName(vsvcFQN),
		},
		HashPolicies: []*udpproxyv3.UdpProxyConfig_HashPolicy{
			{Source: &udpproxyv3.UdpProxyConfig_HashPolicy_SourceIp{SourceIp: true}},
		},
	}
	typedConfig, err := anypb.New(udpConfig)
	if err != nil {
		return nil, fmt.Errorf("xds: packing udp_proxy config: %w", err)
	}

	l := &listenerv3.Listener{
		Name:      listenerName(vsvcFQN),
		ReusePort: true,
		Address: &corev3.Address{
			Address: &corev3.Address_SocketAddress{
				SocketAddress: &corev3.SocketAddress{
					Protocol:      corev3.SocketAddress_UDP,
					Address:       "0.0.0.0",
					PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: uint32(port)},
				},
			},
		},
		ListenerFilters: []*listenerv3.ListenerFilter{
			{
				Name:       udpProxyFilter,
				ConfigType: &listenerv3.ListenerFilter_TypedConfig{TypedConfig: typedConfig},
			},
		},
	}

	packed, err := anypb.New(l)
	if err != nil {
		return nil, fmt.Errorf("xds: packing listener %s: %w", l.Name, err)
	}
	return packed, nil
}

// upstreamAddress is one resolved endpoint the cluster load-balances over.
type upstreamAddress struct {
	Address string
	Port    uint32
	// Selector is true if this address was derived from a label selector
	// (a dynamic endpoint) rather than a static inline endpoint - such
	// addresses get the MAGLEV hash_key metadata and a health check port.
	Selector bool
}

// EncodeCluster builds the Cluster proto named after targetFQN from an
// already resolved upstream list (one LbEndpoint per entry, in the given
// order); resolving a target Action's endpoints into that list is
// Dispatcher.resendCluster's job.
func EncodeCluster(targetFQN model.FQN, upstreams []upstreamAddress) (*anypb.Any, error) {
	lbEndpoints := make([]*endpointv3.LbEndpoint, 0, len(upstreams))
	for _, u := range upstreams {
		ep := &endpointv3.LbEndpoint{
			HostIdentifier: &endpointv3.LbEndpoint_Endpoint{
				Endpoint: &endpointv3.Endpoint{
					Address: &corev3.Address{
						Address: &corev3.Address_SocketAddress{
							SocketAddress: &corev3.SocketAddress{
								Protocol:      corev3.SocketAddress_UDP,
								Address:       u.Address,
								PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: u.Port},
							},
						},
					},
				},
			},
		}
		if u.Selector {
			ep.Metadata = &corev3.Metadata{
				FilterMetadata: map[string]*structpb.Struct{},
			}
			setHashKeyMetadata(ep.Metadata, u.Address)
			ep.GetEndpoint().HealthCheckConfig = &endpointv3.Endpoint_HealthCheckConfig{
				PortValue: healthCheckPort,
			}
		}
		lbEndpoints = append(lbEndpoints, ep)
	}

	cl := &clusterv3.Cluster{
		Name:           string(targetFQN),
		ConnectTimeout: durationpb.New(connectTimeout),
		ClusterDiscoveryType: &clusterv3.Cluster_Type{
			Type: clusterv3.Cluster_STATIC,
		},
		LbPolicy: clusterv3.Cluster_MAGLEV,
		LoadAssignment: &endpointv3.ClusterLoadAssignment{
			ClusterName: string(targetFQN),
			Endpoints: []*endpointv3.LocalityLbEndpoints{
				{LbEndpoints: lbEndpoints},
			},
		},
	}

	packed, err := anypb.New(cl)
	if err != nil {
		return nil, fmt.Errorf("xds: packing cluster %s: %w", cl.Name, err)
	}
	return packed, nil
}
