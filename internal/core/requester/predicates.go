package requester

// The helpdesk API reports some states only through response prose. Each
// literal lives here so a wording change is a one-line edit.
const (
	alreadyDeactivatedMessage = "DELETE method is not allowed. It should be one of these method(s): GET"
	inactivePrimaryCode       = "primary_requester_should_be_active"
)

// IsAlreadyDeactivated reports whether a 405 message from DELETE means the
// requester is already inactive. The match is exact.
func IsAlreadyDeactivated(message string) bool {
	return message == alreadyDeactivatedMessage
}

// IsInactivePrimary reports whether a 400 merge error code means the
// primary requester must be reactivated first.
func IsInactivePrimary(code string) bool {
	return code == inactivePrimaryCode
}
