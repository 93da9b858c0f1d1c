package network

import (
	"context"
	"errors"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/network/dht"
	"github.com/fluxdag/fluxdag/internal/resolver"
)

// NewPeerLookup adapts a Loop's command channel into a resolver.Lookup,
// the peer-lookup source of spec.md §4.3/C3's link-map → receipt-store →
// peer chain and §4.6 step 5b. It only consults the DHT: scenario 5 of
// spec.md §8 is satisfied by a plain FindRecord, never a provider
// fallback (that fallback is reserved for workflow-info lookups, see
// FetchWorkflowInfo).
func NewPeerLookup(l *Loop) resolver.Lookup {
	return func(ctx context.Context, task ipld.CID) (model.Receipt, bool, error) {
		cmd, reply := FindRecord(task, ipld.TagReceipt)
		if err := l.TrySend(cmd); err != nil {
			return model.Receipt{}, false, err
		}
		select {
		case ev := <-reply:
			return receiptFromFound(ev)
		case <-ctx.Done():
			return model.Receipt{}, false, ctx.Err()
		}
	}
}

func receiptFromFound(ev FoundEvent) (model.Receipt, bool, error) {
	if ev.Err != nil {
		if errors.Is(ev.Err, dht.ErrNotFound) {
			return model.Receipt{}, false, nil
		}
		return model.Receipt{}, false, ev.Err
	}
	if ev.Kind != FoundReceipt {
		return model.Receipt{}, false, nil
	}
	return ev.Receipt, true, nil
}

// FetchWorkflowInfo resolves a workflow's WorkflowInfo the way §4.10's
// request/response protocol is meant to be used: a DHT get first, and
// only on a miss, GetProviders followed by an OutboundRequest to the
// first provider that answers (spec.md §8 scenario 6). ok=false (nil
// error) means the workflow info could not be found anywhere; a non-nil
// error means the lookup mechanism itself failed.
func FetchWorkflowInfo(ctx context.Context, l *Loop, workflowCID ipld.CID) (*model.WorkflowInfo, bool, error) {
	findCmd, findReply := FindRecord(workflowCID, ipld.TagWorkflowInfo)
	if err := l.TrySend(findCmd); err != nil {
		return nil, false, err
	}
	var found FoundEvent
	select {
	case found = <-findReply:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if found.Err == nil && found.Kind == FoundWorkflow {
		return found.Workflow, true, nil
	}
	if found.Err != nil && !errors.Is(found.Err, dht.ErrNotFound) {
		return nil, false, found.Err
	}

	provCmd, provReply := GetProviders(workflowCID)
	if err := l.TrySend(provCmd); err != nil {
		return nil, false, err
	}
	var providers []PeerID
	select {
	case providers = <-provReply:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if len(providers) == 0 {
		return nil, false, nil
	}

	fanoutReply := make(chan FoundEvent, len(providers))
	if err := l.TrySend(Command{
		Kind:       CmdProvidersFound,
		CID:        workflowCID,
		CapsuleTag: ipld.TagWorkflowInfo,
		Providers:  providers,
		Reply:      fanoutReply,
	}); err != nil {
		return nil, false, err
	}
	select {
	case ev := <-fanoutReply:
		if ev.Err != nil {
			return nil, false, nil
		}
		if ev.Kind != FoundWorkflow {
			return nil, false, nil
		}
		return ev.Workflow, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
