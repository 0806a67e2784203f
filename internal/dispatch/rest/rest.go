// Package rest implements the REST Dispatcher (C7): applying one differ.Op
// at a time against a Pod's proxy admin API, including the delete-then-add
// semantics "change" requires for immutable listeners/clusters, the schema
// downgrade every add passes through, and idempotent-success / transient /
// permanent error classification.
package rest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/crd"
	"github.com/l7mp/l7mp-operator/internal/differ"
	"github.com/l7mp/l7mp-operator/internal/downgrade"
	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/proxyclient"
	"github.com/l7mp/l7mp-operator/internal/status"
	"github.com/l7mp/l7mp-operator/internal/store"
	"github.com/l7mp/l7mp-operator/internal/telemetry"
)

// RetryDelay is the fixed delay the dispatcher waits before retrying a
// transport failure exactly once, matching the python original's
// `kopf.TemporaryError(delay=5)` on a MaxRetryError.
const RetryDelay = 5 * time.Second

// NewClient constructs the client used to reach a Pod's admin API. Tests
// override this to avoid real network I/O.
type NewClient func(podIP string) *proxyclient.Client

// Dispatcher applies REST-side operations against the proxy admin API.
type Dispatcher struct {
	Conv       *downgrade.Table
	Status     *status.Reporter
	NewClient  NewClient
	RetryDelay time.Duration
}

// New builds a Dispatcher with the production client constructor.
func New(conv *downgrade.Table, reporter *status.Reporter) *Dispatcher {
	return &Dispatcher{
		Conv:       conv,
		Status:     reporter,
		NewClient:  proxyclient.New,
		RetryDelay: RetryDelay,
	}
}

// ownerStatusKind maps the action types that trigger an Owner-Status
// Reporter call on a successful add to the Store kind their own object
// lives under - dynamic_endpoint is deliberately absent, matching the
// original's set_owner_status call sites (vsvc, target, rule only).
var ownerStatusKind = map[model.ActionType]model.Kind{
	model.ActionVsvc:   model.KindVirtualServices,
	model.ActionTarget: model.KindTargets,
	model.ActionRule:   model.KindRules,
}

// Dispatch applies every op in order against the Pod it targets, resolved
// from snap. A Pod missing from snap (already deleted) causes every op for
// it (add, change and delete alike) to be skipped, matching exec_delete_*'s
// "pod not found" short-circuit.
func (d *Dispatcher) Dispatch(ctx context.Context, snap store.Snapshot, ops []differ.Op) error {
	for _, op := range ops {
		pod := snap[model.KindPods][op.Pod]
		if pod == nil {
			continue
		}
		if err := d.dispatchOne(ctx, pod, op); err != nil {
			telemetry.RestFailures.With(telemetry.KindValue(string(op.ActionType)), telemetry.ErrValue(errKind(err))).Increment()
			return fmt.Errorf("rest dispatch: pod %s op %s/%s: %w", op.Pod, op.ActionType, op.Name, err)
		}
		telemetry.RestDispatches.With(telemetry.KindValue(string(op.ActionType)), telemetry.EventValue(string(op.Cmd))).Increment()
		if (op.Cmd != model.CmdAdd && op.Cmd != model.CmdChange) || d.Status == nil {
			continue
		}
		if kind, ok := ownerStatusKind[op.ActionType]; ok {
			if obj := snap[kind][op.Name]; obj != nil {
				if err := d.Status.Report(ctx, obj, op.Name, obj.GetGeneration()); err != nil {
					return fmt.Errorf("rest dispatch: owner status for %s: %w", op.Name, err)
				}
			}
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, pod *unstructured.Unstructured, op differ.Op) error {
	podIP, _, _ := unstructured.NestedString(pod.Object, "status", "podIP")
	if podIP == "" {
		return model.NewTransientError(fmt.Errorf("no podIP for pod %s yet", op.Pod), d.retryDelay())
	}
	client := d.NewClient(podIP)

	switch op.ActionType {
	case model.ActionVsvc:
		return d.dispatchVsvc(ctx, client, op)
	case model.ActionTarget:
		return d.dispatchTarget(ctx, client, op)
	case model.ActionDynamicEndpoint:
		return d.dispatchDynamicEndpoint(ctx, client, op)
	case model.ActionRule:
		return d.dispatchRule(ctx, client, op)
	default:
		return model.NewPermanentError(fmt.Errorf("unknown action type: %s", op.ActionType))
	}
}

func (d *Dispatcher) retryDelay() time.Duration {
	if d.RetryDelay > 0 {
		return d.RetryDelay
	}
	return RetryDelay
}

// retry runs fn once, and again after retryDelay if the first attempt
// fails with a transport-level error (op returns a plain error, not an
// *proxyclient.APIError - an APIError means the server responded and no
// retry can help).
func (d *Dispatcher) retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay()), 1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if _, isAPIErr := err.(*proxyclient.APIError); isAPIErr {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (d *Dispatcher) wrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if _, isAPIErr := err.(*proxyclient.APIError); isAPIErr {
		return err
	}
	return model.NewTransientError(err, d.retryDelay())
}

func isAlreadyDefined(err error) bool {
	apiErr, ok := err.(*proxyclient.APIError)
	return ok && apiErr.Status == 400 && strings.HasSuffix(apiErr.Content, " already defined")
}

func isNotFound(err error, prefixes ...string) bool {
	apiErr, ok := err.(*proxyclient.APIError)
	if !ok || apiErr.Status != 400 {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(apiErr.Content, p) {
			return true
		}
	}
	return false
}

func convert(conv *downgrade.Table, plural string, spec map[string]interface{}) (map[string]interface{}, error) {
	if conv == nil {
		return spec, nil
	}
	return conv.Convert(plural, spec)
}

func (d *Dispatcher) dispatchVsvc(ctx context.Context, client *proxyclient.Client, op differ.Op) error {
	switch op.Cmd {
	case model.CmdAdd:
		return d.addVsvc(ctx, client, op.New)
	case model.CmdDelete:
		return d.deleteVsvc(ctx, client, op.Old)
	case model.CmdChange:
		if err := d.deleteVsvc(ctx, client, op.Old); err != nil {
			return err
		}
		return d.addVsvc(ctx, client, op.New)
	}
	return nil
}

func (d *Dispatcher) addVsvc(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	spec, err := convert(d.Conv, crd.VirtualService.Spec.Names.Plural, action.Spec)
	if err != nil {
		return model.NewPermanentError(err)
	}
	listener, _ := spec["listener"].(map[string]interface{})
	err = d.retry(ctx, func() error {
		return client.AddListener(ctx, proxyclient.Listener{
			Name:  string(action.Name),
			Spec:  asMap(listener["spec"]),
			Rules: asMap(listener["rules"]),
		})
	})
	if err != nil && isAlreadyDefined(err) {
		err = nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) deleteVsvc(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	err := client.DeleteListener(ctx, string(action.Name))
	if err == nil {
		return nil
	}
	if isNotFound(err, "Cannot delete listener: Unknown listener", "Not running") {
		return nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) dispatchTarget(ctx context.Context, client *proxyclient.Client, op differ.Op) error {
	switch op.Cmd {
	case model.CmdAdd:
		return d.addTarget(ctx, client, op.New)
	case model.CmdDelete:
		return d.deleteTarget(ctx, client, op.Old)
	case model.CmdChange:
		if err := d.deleteTarget(ctx, client, op.Old); err != nil {
			return err
		}
		return d.addTarget(ctx, client, op.New)
	}
	return nil
}

func (d *Dispatcher) addTarget(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	spec, err := convert(d.Conv, crd.Target.Spec.Names.Plural, action.Spec)
	if err != nil {
		return model.NewPermanentError(err)
	}
	cluster := asMap(spec["cluster"])
	body := proxyclient.Cluster{}
	for k, v := range cluster {
		body[k] = v
	}
	body["name"] = string(action.Name)

	err = d.retry(ctx, func() error {
		return client.AddCluster(ctx, body)
	})
	if err != nil && isAlreadyDefined(err) {
		err = nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) deleteTarget(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	err := client.DeleteCluster(ctx, string(action.Name))
	if err == nil {
		return nil
	}
	if isNotFound(err, "Cannot delete cluster: Unknown cluster") {
		return nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) dispatchDynamicEndpoint(ctx context.Context, client *proxyclient.Client, op differ.Op) error {
	switch op.Cmd {
	case model.CmdAdd:
		return d.addDynamicEndpoint(ctx, client, op.New)
	case model.CmdDelete:
		return d.deleteDynamicEndpoint(ctx, client, op.Old)
	case model.CmdChange:
		if err := d.deleteDynamicEndpoint(ctx, client, op.Old); err != nil {
			return err
		}
		return d.addDynamicEndpoint(ctx, client, op.New)
	}
	return nil
}

func (d *Dispatcher) addDynamicEndpoint(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	err := d.retry(ctx, func() error {
		return client.AddEndpoint(ctx, string(action.Target), proxyclient.Cluster{
			"name": string(action.Name),
			"spec": action.Spec,
		})
	})
	if err != nil && isAlreadyDefined(err) {
		err = nil
	}
	return d.wrapTransportError(err)
}

// deleteDynamicEndpoint tolerates a Not Found response, matching the
// original's explicit "skipping deletion as target does not exists"
// short-circuit: deleting a cluster also removes its endpoints on the proxy
// side, so a dynamic endpoint delete that arrives after its parent target
// delete is expected to find nothing there.
func (d *Dispatcher) deleteDynamicEndpoint(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	err := client.DeleteEndpoint(ctx, string(action.Name))
	if err == nil {
		return nil
	}
	if isNotFound(err, "Not Found") {
		return nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) dispatchRule(ctx context.Context, client *proxyclient.Client, op differ.Op) error {
	switch op.Cmd {
	case model.CmdAdd:
		return d.addRule(ctx, client, op.New)
	case model.CmdDelete:
		return d.deleteRule(ctx, client, op.Old)
	case model.CmdChange:
		if err := d.deleteRule(ctx, client, op.Old); err != nil {
			return err
		}
		return d.addRule(ctx, client, op.New)
	}
	return nil
}

func (d *Dispatcher) addRule(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	spec, err := convert(d.Conv, crd.Rule.Spec.Names.Plural, action.Spec)
	if err != nil {
		return model.NewPermanentError(err)
	}
	ruleList, _ := spec["rulelist"].(string)
	position := toInt(spec["position"])
	rule := asMap(spec["rule"])
	body := proxyclient.Rule{}
	for k, v := range rule {
		body[k] = v
	}
	body["name"] = string(action.Name)

	err = d.retry(ctx, func() error {
		return client.AddRuleToRuleList(ctx, ruleList, position, body)
	})
	if err != nil && isAlreadyDefined(err) {
		err = nil
	}
	return d.wrapTransportError(err)
}

func (d *Dispatcher) deleteRule(ctx context.Context, client *proxyclient.Client, action model.Action) error {
	ruleList, _ := action.Spec["rulelist"].(string)
	err := client.DeleteRuleFromRuleList(ctx, ruleList, string(action.Name))
	if err != nil && !isNotFound(err, "Cannot delete rule: Unknown rule") {
		return d.wrapTransportError(err)
	}
	err = client.DeleteRule(ctx, string(action.Name))
	if err != nil && !isNotFound(err, "Cannot delete rule: Unknown rule") {
		return d.wrapTransportError(err)
	}
	return nil
}

// toInt coerces the numeric types unstructured.Unstructured decodes JSON
// numbers into (int64, float64) to int, matching toUint32 in the xDS
// dispatcher for the same class of value.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func errKind(err error) string {
	switch err.(type) {
	case *model.TransientError:
		return "transient"
	case *model.PermanentError:
		return "permanent"
	default:
		return "other"
	}
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}
