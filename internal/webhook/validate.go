// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leadrelay/orchestrator/internal/apperr"
)

// leadPhone is E.164 with a national number of at least ten digits.
var leadPhone = regexp.MustCompile(`^\+[1-9]\d{10,14}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("leadphone", func(fl validator.FieldLevel) bool {
		return leadPhone.MatchString(fl.Field().String())
	})
	return v
}

// FormSubmission is the lead capture form.
type FormSubmission struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,leadphone"`
	AreaCode  string `json:"area_code" validate:"required"`
	Interest  string `json:"interest,omitempty"`
}

// validationError turns validator output into the relay's messages:
// missing fields first, then the first format failure.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validationf(op, "invalid request: %v", err)
	}

	var missing []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return apperr.Validationf(op, "Missing required fields: %s", strings.Join(missing, ", "))
	}

	switch fe := verrs[0]; fe.Tag() {
	case "email":
		return apperr.Validationf(op, "Invalid email format")
	case "leadphone":
		return apperr.Validationf(op, "Invalid phone number format. Must be in E.164 format")
	default:
		return apperr.Validationf(op, "Invalid value for %s", fe.Field())
	}
}
