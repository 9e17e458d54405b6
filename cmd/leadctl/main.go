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

// leadctl is the operator CLI for the lead relay: schema bootstrap,
// session and lead inspection, and manual email sends.
//
// Usage:
//
//	leadctl migrate
//	leadctl sessions [--identity email:jane@x.com] [--limit 20]
//	leadctl conversation <session-id>
//	leadctl lookup <identity>
//	leadctl send-email --to jane@x.com --body "Hello" [--subject "..."]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
