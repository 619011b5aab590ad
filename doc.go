// Package account is an account/identity core: registration, credential
// checks, password and email changes, password reset, and GDPR erasure.
//
// Account lifecycle:
//   - Users carry an AccountState persisted as two columns (action_kind,
//     action_token). States cover pending-registration, active,
//     reset-password-request, account-blocked and gdpr-unsubscribed.
//   - AccountStateMachine owns the transition graph. Accounts exposes the
//     operations (Register, Login, VerifyEmail, ResetPassword, ...) and
//     routes every state change through the machine.
//   - Action tokens are single use. Consuming a token is one conditional
//     UPDATE so concurrent uses of the same token have exactly one winner.
//
// Side effects:
//   - Notifier renders transactional messages and hands them to a Sender.
//     Delivery is best-effort and never fails the calling transition.
//   - ActivitySink receives audit events for every transition. Sinks run
//     best-effort (errors are logged).
//
// The orchestrator subpackage maps operation names to Accounts calls and
// builds the response envelope consumed by a web-facing dispatcher.
package account
