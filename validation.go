package account

import (
	"context"
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// Messages used in field errors.
const (
	MsgRequired     = "required"
	MsgInvalid      = "invalid"
	MsgInvalidEmail = "invalid email"
	MsgInUse        = "already in use"
	MsgUnsubscribed = "unsubscribed"
	MsgNotWritable  = "not writable"
	MsgTooLong      = "too long"
	MsgInvalidPhone = "invalid phone number"
)

const (
	DefaultPasswordMinLength = 8
	DefaultPasswordMaxLength = 128
	DefaultPhoneRegion       = "US"
	maxNameLength            = 200
	maxEmailLength           = 254
)

// EmailChecker answers uniqueness questions for the email rule.
type EmailChecker interface {
	EmailExists(ctx context.Context, email string, exclude uuid.UUID) (bool, error)
}

// ValidatorOption customizes a Validator
type ValidatorOption func(*Validator)

// WithPasswordLength sets the accepted password length range.
func WithPasswordLength(min, max int) ValidatorOption {
	return func(v *Validator) {
		if min > 0 {
			v.passwordMin = min
		}
		if max >= v.passwordMin {
			v.passwordMax = max
		}
	}
}

// WithPhoneRegion sets the region used to parse numbers without a
// leading "+".
func WithPhoneRegion(region string) ValidatorOption {
	return func(v *Validator) {
		if region != "" {
			v.region = region
		}
	}
}

// Validator runs declarative per-field rules and reports every failing
// field in one pass.
type Validator struct {
	emails      EmailChecker
	passwordMin int
	passwordMax int
	region      string
}

// NewValidator builds a Validator. emails may be nil, in which case the
// uniqueness rule is skipped.
func NewValidator(emails EmailChecker, opts ...ValidatorOption) *Validator {
	v := &Validator{
		emails:      emails,
		passwordMin: DefaultPasswordMinLength,
		passwordMax: DefaultPasswordMaxLength,
		region:      DefaultPhoneRegion,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate checks the given fields. exclude is the id of the record being
// updated so its own email does not count as taken. The result is nil, a
// *ValidationError, or an internal error from the EmailChecker.
func (v *Validator) Validate(ctx context.Context, exclude uuid.UUID, fields map[string]any) error {
	var internal error
	errs := validation.Errors{}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := fields[name].(string)
		if !ok {
			errs[name] = errors.New(MsgInvalid)
			continue
		}

		rules := v.rulesFor(ctx, name, exclude, &internal)
		if len(rules) == 0 {
			continue
		}

		if err := validation.Validate(value, rules...); err != nil {
			errs[name] = err
		}
	}

	if internal != nil {
		return internal
	}

	if err := errs.Filter(); err != nil {
		return toValidationError(err)
	}

	return nil
}

// ValidatePassword checks only the password policy, reporting under field.
func (v *Validator) ValidatePassword(field, password string) error {
	if err := validation.Validate(password, v.passwordRules()...); err != nil {
		return NewValidationError(map[string]string{field: err.Error()})
	}
	return nil
}

// NormalizePhone parses number and formats it as E.164.
func (v *Validator) NormalizePhone(number string) (string, error) {
	num, err := phonenumbers.Parse(number, v.region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New(MsgInvalidPhone)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (v *Validator) rulesFor(ctx context.Context, field string, exclude uuid.UUID, internal *error) []validation.Rule {
	switch field {
	case FieldEmail, FieldNewEmail:
		return []validation.Rule{
			validation.Required.Error(MsgRequired),
			validation.Length(3, maxEmailLength).Error(MsgInvalidEmail),
			is.Email.Error(MsgInvalidEmail),
			validation.By(v.uniqueEmail(ctx, exclude, internal)),
		}
	case FieldFirstName, FieldLastName:
		return []validation.Rule{
			validation.Required.Error(MsgRequired),
			validation.Length(1, maxNameLength).Error(MsgTooLong),
		}
	case FieldPassword, FieldNewPassword:
		return v.passwordRules()
	case FieldPhone:
		return []validation.Rule{
			validation.By(v.validPhone),
		}
	}
	return nil
}

func (v *Validator) passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(MsgRequired),
		validation.Length(v.passwordMin, v.passwordMax).
			Error(fmt.Sprintf("must be between %d and %d characters", v.passwordMin, v.passwordMax)),
	}
}

func (v *Validator) uniqueEmail(ctx context.Context, exclude uuid.UUID, internal *error) validation.RuleFunc {
	return func(value interface{}) error {
		if v.emails == nil {
			return nil
		}

		email, _ := value.(string)
		if email == "" {
			return nil
		}

		exists, err := v.emails.EmailExists(ctx, NormalizeEmail(email), exclude)
		if err != nil {
			*internal = internalError("check email uniqueness", err)
			return nil
		}

		if exists {
			return errors.New(MsgInUse)
		}
		return nil
	}
}

func (v *Validator) validPhone(value interface{}) error {
	number, _ := value.(string)
	if number == "" {
		return nil
	}

	if _, err := v.NormalizePhone(number); err != nil {
		return errors.New(MsgInvalidPhone)
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	out := &ValidationError{Fields: map[string]string{}}

	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, ferr := range errs {
			if ferr != nil {
				out.Fields[field] = ferr.Error()
			}
		}
		return out
	}

	out.Fields["form"] = err.Error()
	return out
}
