package protocol

import apperrors "github.com/carlosrabelo/rps/pkg/errors"

// ErrPolicyRejected is returned when a well-formed request is disallowed by
// policy (non-CONNECT method, unsupported auth schema).
var ErrPolicyRejected = apperrors.New(apperrors.CategoryPolicy, "protocol.policy_rejected", "request rejected by policy")

// ErrAuthRequired is returned when credentials are configured but the
// client omitted or failed Proxy-Authorization / SOCKS5 sub-negotiation.
var ErrAuthRequired = apperrors.New(apperrors.CategoryAuth, "protocol.auth_required", "authentication required")

// ErrNoUpstream is the protocol-level "no viable upstream" error. It is a
// separate value from upstream.ErrNoUpstream and does not wrap it.
var ErrNoUpstream = apperrors.New(apperrors.CategoryUpstream, "protocol.no_upstream", "no viable upstream available")
