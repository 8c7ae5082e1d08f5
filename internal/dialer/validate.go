package dialer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig runs the struct tags and the cross-field rules tags cannot express.
func validateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return configError(err)
	}
	h := cfg.DialingHours
	if (h.StartTime == "") != (h.EndTime == "") {
		return fmt.Errorf("%w: dialing_hours needs both start_time and end_time", ErrInvalidConfig)
	}
	return nil
}

func validateNewCampaign(n NewCampaign) error {
	if strings.TrimSpace(n.OrganizationID) == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidConfig)
	}
	if err := validate.Struct(n); err != nil {
		return configError(err)
	}
	return validateConfig(n.Config)
}

func configError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// withDefaults fills the pacing fields a create request left at zero.
func (c Config) withDefaults() Config {
	if c.MaxConcurrentCalls == 0 {
		c.MaxConcurrentCalls = 1
	}
	if c.MaxAttemptsPerContact == 0 {
		c.MaxAttemptsPerContact = 3
	}
	c.InboundTargets = append([]WeightedTarget(nil), c.InboundTargets...)
	for i := range c.InboundTargets {
		if c.InboundTargets[i].Weight == 0 {
			c.InboundTargets[i].Weight = 1
		}
	}
	return c
}
