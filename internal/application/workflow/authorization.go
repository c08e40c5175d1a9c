package workflow

import (
	"fmt"
	"strings"

	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/domain/entity"
	domainwf "github.com/garyjia/evoucher/internal/domain/workflow"
)

// DefaultApproverRole is used when no approver roles are configured
const DefaultApproverRole = "Accounting"

type roleRule int

const (
	ruleAuthenticated roleRule = iota
	ruleApprover
	ruleRequesterOrApprover
)

// roleTable is the only place that decides who may fire which trigger
var roleTable = map[domainwf.Trigger]roleRule{
	domainwf.TriggerSubmit:       ruleAuthenticated,
	domainwf.TriggerApprove:      ruleApprover,
	domainwf.TriggerReject:       ruleApprover,
	domainwf.TriggerCancel:       ruleRequesterOrApprover,
	domainwf.TriggerPostToLedger: ruleApprover,
}

// Policy authorizes actors against the role table
type Policy struct {
	approverRoles map[string]bool
}

// NewPolicy creates a policy; role names compare case-insensitively
func NewPolicy(approverRoles ...string) *Policy {
	p := &Policy{approverRoles: make(map[string]bool)}
	for _, r := range approverRoles {
		if r = strings.TrimSpace(r); r != "" {
			p.approverRoles[strings.ToLower(r)] = true
		}
	}
	if len(p.approverRoles) == 0 {
		p.approverRoles[strings.ToLower(DefaultApproverRole)] = true
	}
	return p
}

// IsApprover reports whether actor holds an approver role
func (p *Policy) IsApprover(actor entity.Actor) bool {
	return p.approverRoles[strings.ToLower(strings.TrimSpace(actor.Role))]
}

// Authorize returns an ErrForbidden error unless actor may fire trigger on
// doc. It does not look at doc.Status.
func (p *Policy) Authorize(trigger domainwf.Trigger, actor entity.Actor, doc *entity.FinancialDocument) error {
	if !actor.Authenticated() {
		return fmt.Errorf("%w: %s requires an authenticated actor", apperrors.ErrForbidden, trigger)
	}

	rule, ok := roleTable[trigger]
	if !ok {
		return fmt.Errorf("%w: unknown action %s", apperrors.ErrForbidden, trigger)
	}

	switch rule {
	case ruleAuthenticated:
		return nil
	case ruleApprover:
		if p.IsApprover(actor) {
			return nil
		}
	case ruleRequesterOrApprover:
		if p.IsApprover(actor) || (doc != nil && actor.ID == doc.RequestedBy.ID) {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not %s document %s", apperrors.ErrForbidden, actor.Role, trigger, docID(doc))
}

func docID(doc *entity.FinancialDocument) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}
