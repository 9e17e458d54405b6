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
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
)

const multipartMemory = 32 << 20

// decode reads a JSON, urlencoded or multipart body into dst. Form values
// are matched to dst's json tags; only string-like fields are supported
// for forms.
func decode(r *http.Request, dst any) error {
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return apperr.Validationf("webhook.decode", "request body is not valid JSON: %v", err)
		}
		return nil
	}

	values, err := formValues(r)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validationf("webhook.decode", "invalid form fields: %v", err)
	}
	return nil
}

// formValues flattens a urlencoded or multipart body (and the query
// string) to the first value of each field.
func formValues(r *http.Request) (map[string]string, error) {
	var err error
	if mediaType(r) == "multipart/form-data" {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, apperr.Validationf("webhook.decode", "could not parse form body: %v", err)
	}

	out := make(map[string]string, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out, nil
}

// decodeCallback reads an assistant callback in either encoding.
func decodeCallback(r *http.Request) (assistant.Callback, error) {
	if isJSON(r) {
		var cb assistant.Callback
		err := decode(r, &cb)
		return cb, err
	}
	if err := r.ParseForm(); err != nil {
		return assistant.Callback{}, apperr.Validationf("webhook.decode", "could not parse form body: %v", err)
	}
	return assistant.CallbackFromForm(r.Form), nil
}
