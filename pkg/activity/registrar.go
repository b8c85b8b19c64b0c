// Package activity owns the at-most-one activity registration an application
// instance holds with the system activity manager. Registration is
// asynchronous: the request is fire-and-forget and the assigned activity
// identifier arrives later on the bus, correlated by call token.
package activity

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/cardhost/pkg/bus"
	"github.com/odvcencio/cardhost/pkg/correlation"
	apperrors "github.com/odvcencio/cardhost/pkg/errors"
	"github.com/odvcencio/cardhost/pkg/logging"
)

// Service methods on the activity manager.
const (
	MethodCreate  = "system.activitymanager.create"
	MethodFocus   = "system.activitymanager.focus"
	MethodUnfocus = "system.activitymanager.unfocus"
)

// UnassignedID is the sentinel for "no activity identifier assigned".
const UnassignedID = -1

// State is the registration state.
type State int

const (
	StateIdle State = iota
	StateRegistering
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// registrationRequest is the activity manager create payload.
type registrationRequest struct {
	Activity  activityInfo `json:"activity"`
	Subscribe bool         `json:"subscribe"`
	Start     bool         `json:"start"`
	Replace   bool         `json:"replace"`
}

type activityInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        activityType `json:"type"`
}

type activityType struct {
	Foreground bool `json:"foreground"`
}

// focusRequest is the focus/unfocus payload.
type focusRequest struct {
	ActivityID int `json:"activityId"`
}

// Registrar holds one instance's activity registration.
// All bus failures are recovered locally; none propagate to the caller.
type Registrar struct {
	bus bus.ServiceBus
	log *logging.InstanceLogger

	// OnOutcome, when set before Register, observes each terminal
	// registration outcome: the assigned identifier with a nil error on
	// success, UnassignedID with a coded error otherwise. Invoked outside
	// the registrar's lock. May be nil.
	OnOutcome func(activityID int, err error)

	appID     string
	processID string

	mu         sync.Mutex
	state      State
	token      correlation.Token
	activityID int
}

// NewRegistrar creates an idle registrar for the given instance identity.
func NewRegistrar(b bus.ServiceBus, log *logging.InstanceLogger, appID, processID string) *Registrar {
	return &Registrar{
		bus:        b,
		log:        log,
		appID:      appID,
		processID:  processID,
		activityID: UnassignedID,
	}
}

// Register sends the asynchronous registration request. Duplicate calls while
// a registration is outstanding or active are no-ops. A dispatch failure is
// logged and leaves the registrar idle with no token recorded.
func (r *Registrar) Register(ctx context.Context) {
	r.mu.Lock()

	if r.state != StateIdle {
		state := r.state.String()
		r.mu.Unlock()
		r.log.Warn(logging.CategoryActivity, "duplicate_register",
			"already registered with activity manager", map[string]any{
				"state": state,
			})
		return
	}

	payload, err := json.Marshal(registrationRequest{
		Activity: activityInfo{
			Name:        r.appID,
			Description: r.processID,
			Type:        activityType{Foreground: true},
		},
		Subscribe: true,
		Start:     true,
		Replace:   true,
	})
	if err != nil {
		r.mu.Unlock()
		r.log.Error(logging.CategoryActivity, "encode_failed",
			"failed to encode registration request", map[string]any{"error": err.Error()})
		return
	}

	token, err := r.bus.Call(ctx, MethodCreate, payload, r.HandleReply)
	if err != nil {
		r.mu.Unlock()
		r.log.Error(logging.CategoryActivity, "register_failed",
			"failed to register with activity manager", map[string]any{"error": err.Error()})
		r.notifyOutcome(UnassignedID, apperrors.Wrap(err, apperrors.ErrCodeBusTransport,
			"dispatch registration request"))
		return
	}

	r.token = token
	r.state = StateRegistering
	r.mu.Unlock()
}

// HandleReply processes a registration reply for the given call token.
// Replies whose token does not match the current outstanding token are
// silently discarded; that is the expected outcome when a registration is
// cancelled and a new one started before the old reply arrives.
func (r *Registrar) HandleReply(token correlation.Token, payload []byte) {
	r.mu.Lock()

	if token == correlation.TokenInvalid || token != r.token {
		r.mu.Unlock()
		return
	}

	var reply struct {
		ReturnValue *bool    `json:"returnValue"`
		ActivityID  *float64 `json:"activityId"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil || reply.ReturnValue == nil {
		r.resetLocked()
		r.mu.Unlock()
		r.log.Warn(logging.CategoryActivity, "malformed_reply",
			"malformed response from activity manager", map[string]any{
				"payload": string(payload),
			})
		r.notifyOutcome(UnassignedID, apperrors.New(apperrors.ErrCodeBusProtocol,
			"malformed registration reply"))
		return
	}

	if !*reply.ReturnValue {
		r.resetLocked()
		r.mu.Unlock()
		r.log.Warn(logging.CategoryActivity, "register_rejected",
			"activity manager rejected registration", map[string]any{
				"payload": string(payload),
			})
		r.notifyOutcome(UnassignedID, apperrors.New(apperrors.ErrCodeActivityRejected,
			"activity manager rejected registration"))
		return
	}

	if reply.ActivityID == nil {
		r.resetLocked()
		r.mu.Unlock()
		r.log.Warn(logging.CategoryActivity, "malformed_reply",
			"successful reply missing activityId", map[string]any{
				"payload": string(payload),
			})
		r.notifyOutcome(UnassignedID, apperrors.New(apperrors.ErrCodeBusProtocol,
			"successful reply missing activityId"))
		return
	}

	id := int(*reply.ActivityID)
	r.activityID = id
	r.state = StateRegistered
	r.mu.Unlock()
	r.log.Info(logging.CategoryActivity, "registered",
		"activity registered", map[string]any{"activity_id": id})
	r.notifyOutcome(id, nil)
}

// notifyOutcome forwards a terminal registration outcome to the observer.
// Must be called without r.mu held.
func (r *Registrar) notifyOutcome(activityID int, err error) {
	if r.OnOutcome != nil {
		r.OnOutcome(activityID, err)
	}
}

// SetFocus reports focus changes for the assigned activity. A registrar
// without an assigned identifier ignores the call; a dispatch failure is
// logged only.
func (r *Registrar) SetFocus(ctx context.Context, focus bool) {
	r.mu.Lock()
	id := r.activityID
	r.mu.Unlock()

	if id == UnassignedID {
		return
	}

	method := MethodUnfocus
	if focus {
		method = MethodFocus
	}

	payload, err := json.Marshal(focusRequest{ActivityID: id})
	if err != nil {
		r.log.Error(logging.CategoryActivity, "encode_failed",
			"failed to encode focus request", map[string]any{"error": err.Error()})
		return
	}

	if err := r.bus.CallOneway(ctx, method, payload); err != nil {
		r.log.Warn(logging.CategoryActivity, "focus_failed",
			"failed to change activity focus", map[string]any{
				"focus": focus,
				"error": err.Error(),
			})
	}
}

// Cancel withdraws the outstanding or active registration. Local state is
// cleared even when the transport cancel fails; the remote side is eventually
// consistent and never a correctness dependency of this component.
func (r *Registrar) Cancel(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle {
		return
	}

	if err := r.bus.Cancel(r.token); err != nil {
		r.log.Warn(logging.CategoryActivity, "cancel_failed",
			"failed to cancel activity registration", map[string]any{"error": err.Error()})
	}

	r.token = correlation.TokenInvalid
	r.activityID = UnassignedID
	r.state = StateIdle
}

// resetLocked returns to idle after a failed registration, dropping the bus
// call so no further replies arrive. Caller holds r.mu.
func (r *Registrar) resetLocked() {
	if r.token != correlation.TokenInvalid {
		_ = r.bus.Cancel(r.token)
	}
	r.token = correlation.TokenInvalid
	r.activityID = UnassignedID
	r.state = StateIdle
}

// State returns the current registration state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ActivityID returns the assigned identifier, or UnassignedID.
func (r *Registrar) ActivityID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activityID
}

// Token returns the outstanding call token, or the invalid sentinel.
func (r *Registrar) Token() correlation.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}
