// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"

	"go.uber.org/goleak"

	"github.com/gristlabs/grist-core-sub009/lib/codec"
)

// envTestRuntime, when set, turns the test binary into a stand-in
// isolated runtime instead of running the test suite. The end-to-end
// tests spawn the binary itself under the unsandboxed flavor with this
// variable set.
const envTestRuntime = "SANDBOX_TEST_RUNTIME"

func TestMain(m *testing.M) {
	if mode := os.Getenv(envTestRuntime); mode != "" {
		runTestRuntime(mode)
		return
	}
	goleak.VerifyTestMain(m)
}

// runTestRuntime speaks the runtime side of the protocol on the
// inherited descriptors. Modes:
//
//	echo:  serve calls until the request stream ends, then exit cleanly;
//	       isolation probes fail as if the sandbox held
//	leaky: like echo, but isolation probes succeed
//	hang:  ignore SIGTERM, never respond, never exit on its own
//	quit:  exit immediately without serving anything
func runTestRuntime(mode string) {
	requests := os.NewFile(childRequestFD, "requests")
	responses := os.NewFile(childResponseFD, "responses")

	switch mode {
	case "quit":
		os.Exit(0)

	case "hang":
		signal.Ignore(syscall.SIGTERM)
		for {
			if _, err := readFrame(requests); err != nil {
				// Request stream is gone; stay alive anyway so only a
				// kill ends this process.
				select {}
			}
		}

	case "echo", "leaky":
		for {
			f, err := readFrame(requests)
			if err != nil {
				os.Exit(0)
			}
			var request requestEnvelope
			if err := codec.Unmarshal(f.Payload, &request); err != nil {
				os.Exit(1)
			}
			reply, err := testRuntimeReply(request, mode == "leaky")
			if err != nil {
				os.Exit(1)
			}
			if err := writeFrame(responses, reply); err != nil {
				os.Exit(1)
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown test runtime mode %q\n", mode)
		os.Exit(2)
	}
}

func testRuntimeReply(request requestEnvelope, leaky bool) (frame, error) {
	switch request.Function {
	case "echo":
		return encodeResult(request.ID, request.Args[0])
	case "uppercase":
		return encodeResult(request.ID, strings.ToUpper(request.Args[0].(string)))
	case "raise":
		message := fmt.Sprintf("%v", request.Args[0])
		fmt.Fprintf(os.Stderr, "formula error: %s\n", message)
		traceback := "Traceback (most recent call last):\n  " + message
		return encodeException(request.ID, message, traceback)
	case ProbeWriteFile, ProbeConnect, ProbeSpawn:
		if leaky {
			return encodeResult(request.ID, true)
		}
		return encodeException(request.ID, "operation not permitted", "")
	case ProbeReadFile:
		if leaky {
			return encodeResult(request.ID, "stolen file contents")
		}
		return encodeException(request.ID, "operation not permitted", "")
	default:
		return encodeException(request.ID, "unknown function "+request.Function, "")
	}
}
