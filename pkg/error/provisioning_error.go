package error

import (
	"fmt"
	"net/http"
)

// Closed set of terminal provisioning failure reasons. Anything that is not
// a missing tenant is reported as UNKNOWN; callers must not grow this set to
// classify transient store errors.
const (
	ReasonTenantNotFound = "TENANT_NOT_FOUND"
	ReasonUnknown        = "UNKNOWN"
)

// ProvisioningError is the terminal failure of a provisioning path after its
// single repair retry. Recoverable tells operators whether intervention can
// fix it: a missing tenant can be created, an unknown failure cannot be
// reasoned about from the notification alone.
type ProvisioningError struct {
	Reason      string
	Recoverable bool
	Err         error
}

func NewProvisioningError(reason string, cause error) *ProvisioningError {
	return &ProvisioningError{
		Reason:      reason,
		Recoverable: reason == ReasonTenantNotFound,
		Err:         cause,
	}
}

func (err *ProvisioningError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("provisioning failed (%s): %v", err.Reason, err.Err)
	}
	return fmt.Sprintf("provisioning failed (%s)", err.Reason)
}

func (err *ProvisioningError) ErrCode() string {
	return "PROVISIONING_FAILED"
}

func (err *ProvisioningError) StatusCode() int {
	return http.StatusUnprocessableEntity
}

func (err *ProvisioningError) Unwrap() error {
	return err.Err
}
