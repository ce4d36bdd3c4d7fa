// callbacks.go parses inline-button callback data into a closed set of
// actions. Button payloads are "action:param"; anything outside the known
// set is rejected up front instead of being string-split ad hoc at each use
// site.
package gateway

import (
	"fmt"
	"strings"
)

// CallbackKind enumerates every action an inline button can carry.
type CallbackKind int

const (
	CallbackApprove CallbackKind = iota
	CallbackDeny
	CallbackFeedback
	CallbackWorkspace
	CallbackProvider
	CallbackModel
	CallbackCancelTask
)

// CallbackAction is one parsed button press.
type CallbackAction struct {
	Kind CallbackKind

	// Param is the action argument: an approval ID for approve/deny, a
	// workspace/provider/model ID for pickers, a task ID for cancel, a
	// sentiment ("good"/"bad") for feedback.
	Param string
}

var callbackKinds = map[string]CallbackKind{
	"approve":   CallbackApprove,
	"deny":      CallbackDeny,
	"feedback":  CallbackFeedback,
	"workspace": CallbackWorkspace,
	"provider":  CallbackProvider,
	"model":     CallbackModel,
	"cancel":    CallbackCancelTask,
}

var callbackNames = map[CallbackKind]string{
	CallbackApprove:    "approve",
	CallbackDeny:       "deny",
	CallbackFeedback:   "feedback",
	CallbackWorkspace:  "workspace",
	CallbackProvider:   "provider",
	CallbackModel:      "model",
	CallbackCancelTask: "cancel",
}

// ParseCallback parses raw button data. Unknown actions and missing params
// are errors; the press is answered with a generic failure and dropped.
func ParseCallback(data string) (*CallbackAction, error) {
	action, param, ok := strings.Cut(data, ":")
	if !ok || param == "" {
		return nil, fmt.Errorf("malformed callback data %q", data)
	}
	kind, known := callbackKinds[action]
	if !known {
		return nil, fmt.Errorf("unknown callback action %q", action)
	}
	return &CallbackAction{Kind: kind, Param: param}, nil
}

// EncodeCallback builds button data for an action. The inverse of
// ParseCallback, used when constructing keyboards.
func EncodeCallback(kind CallbackKind, param string) string {
	return callbackNames[kind] + ":" + param
}
