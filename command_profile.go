package account

import (
	"context"
	"sort"
)

// WritableProfileFields are the only fields UpdateProfile accepts.
var WritableProfileFields = []string{FieldFirstName, FieldLastName, FieldPhone}

func isWritable(field string) bool {
	for _, f := range WritableProfileFields {
		if f == field {
			return true
		}
	}
	return false
}

// UpdateProfile persists the given subset of writable fields. Any other
// field is reported as not writable and nothing is stored while any field
// fails.
func (a *Accounts) UpdateProfile(ctx context.Context, user *User, fields map[string]any) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := a.ensureMutable(user); err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return user, nil
	}

	verr := &ValidationError{Fields: map[string]string{}}
	writable := map[string]any{}
	for name, value := range fields {
		if !isWritable(name) {
			verr.Add(name, MsgNotWritable)
			continue
		}
		writable[name] = value
	}

	if err := a.validator.Validate(ctx, user.ID, writable); err != nil {
		fieldErrs := FieldErrors(err)
		if fieldErrs == nil {
			return nil, err
		}
		for k, v := range fieldErrs {
			verr.Add(k, v)
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}

	patch := Fields{}
	names := make([]string, 0, len(writable))
	for name := range writable {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := writable[name].(string)
		if name == FieldPhone {
			if value == "" {
				patch[name] = nil
				continue
			}
			normalized, err := a.validator.NormalizePhone(value)
			if err != nil {
				return nil, NewValidationError(map[string]string{FieldPhone: MsgInvalidPhone})
			}
			value = normalized
		}
		patch[name] = value
	}
	patch["updated_at"] = a.now().UTC()

	updated, err := a.users.Update(ctx, user.ID, patch)
	if err != nil {
		return nil, passThrough("update profile", err)
	}
	*user = *updated

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"fields": names},
	})

	return user, nil
}
