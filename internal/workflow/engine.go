// Package workflow resolves the tag-based approval policy and drives a
// request through the approval channel, with a per-tag policy lookup instead
// of a fixed approve/deny action.
package workflow

import (
	"context"
	"time"

	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/approval"
	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/secretstore"
)

// Policy carries the approval configuration consulted by needsApproval.
type Policy struct {
	RequireApproval        map[string]bool
	DefaultRequireApproval bool
	ApprovalTimeout        time.Duration
}

// MetadataStore is the subset of secretstore.Store the engine needs.
type MetadataStore interface {
	GetMetadata(uuid string) (secretstore.Listing, error)
}

// Engine drives a request from pending to a terminal status.
type Engine struct {
	store   MetadataStore
	channel approval.Channel
	policy  Policy
}

// New returns an Engine. channel may be nil when no approval channel is
// configured; ProcessRequest then fails ApprovalChannelFailure for any
// request that needs approval.
func New(store MetadataStore, channel approval.Channel, policy Policy) *Engine {
	return &Engine{store: store, channel: channel, policy: policy}
}

// needsApproval implements first-match-wins per secret, then OR across
// secrets: an explicit false for a tag on one secret does not cancel an
// explicit true from a tag on another secret.
func needsApproval(secrets []secretstore.Listing, policy Policy) bool {
	for _, s := range secrets {
		matched := false
		for _, tag := range s.Tags {
			if require, ok := policy.RequireApproval[tag]; ok {
				if require {
					return true
				}
				matched = true
				break
			}
		}
		if !matched && policy.DefaultRequireApproval {
			return true
		}
	}
	return false
}

// ProcessRequest resolves metadata, computes policy, and either
// auto-approves or drives the request through the approval channel.
func (e *Engine) ProcessRequest(ctx context.Context, req *accessrequest.Request) (approval.Verdict, error) {
	secrets := make([]secretstore.Listing, 0, len(req.SecretUUIDs))
	for _, id := range req.SecretUUIDs {
		listing, err := e.store.GetMetadata(id)
		if err != nil {
			req.Status = accessrequest.StatusDenied
			return approval.VerdictDenied, err
		}
		secrets = append(secrets, listing)
	}

	if !needsApproval(secrets, e.policy) {
		req.Status = accessrequest.StatusApproved
		return approval.VerdictApproved, nil
	}

	if e.channel == nil {
		req.Status = accessrequest.StatusDenied
		return approval.VerdictDenied, brokererr.New(brokererr.ApprovalChannelFailure, "no approval channel configured")
	}

	summary := buildSummary(req, secrets)
	messageID, err := e.channel.SendApprovalRequest(ctx, summary)
	if err != nil {
		req.Status = accessrequest.StatusDenied
		return approval.VerdictDenied, brokererr.Wrap(brokererr.ApprovalChannelFailure, "sending approval request", err)
	}

	verdict, err := e.channel.WaitForResponse(ctx, messageID, e.policy.ApprovalTimeout)
	if err != nil {
		req.Status = accessrequest.StatusDenied
		return approval.VerdictDenied, brokererr.Wrap(brokererr.ApprovalChannelFailure, "waiting for approval response", err)
	}

	switch verdict {
	case approval.VerdictApproved:
		req.Status = accessrequest.StatusApproved
	case approval.VerdictDenied:
		req.Status = accessrequest.StatusDenied
	default:
		req.Status = accessrequest.StatusTimeout
	}
	return verdict, nil
}

func buildSummary(req *accessrequest.Request, secrets []secretstore.Listing) approval.Summary {
	refs := make([]string, len(secrets))
	for i, s := range secrets {
		refs[i] = s.Ref
	}
	return approval.Summary{
		RequestID:   req.ID,
		SecretUUIDs: req.SecretUUIDs,
		SecretRefs:  refs,
		Requester:   "agent",
		Reason:      req.Reason,
		TaskRef:     req.TaskRef,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	}
}
