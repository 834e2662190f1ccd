package main

import (
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testApp struct {
	done chan struct{}

	runErr     bool
	usageErr   bool
	hupReturns bool
}

func (a *testApp) Run() error {
	<-a.done
	if a.runErr {
		return errors.New("requested error")
	}
	return nil
}

func (a testApp) UsageError() bool {
	return a.usageErr
}

func (a testApp) Hup() bool {
	return a.hupReturns
}

func (a *testApp) Quit() {
	close(a.done)
}

//nolint:tparallel // Signal handlers tests: subtests can't be parallel
func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		runErr     bool
		usageErr   bool
		hupReturns bool
		signal     syscall.Signal

		wantExitOnSignal bool
		wantReturnCode   int
	}{
		"Exits successfully":                   {},
		"Returns 1 on error":                   {runErr: true, wantReturnCode: 1},
		"Returns 2 on usage error":             {runErr: true, usageErr: true, wantReturnCode: 2},
		"Usage error without error is success": {usageErr: true},

		"Quits on SIGINT":              {signal: syscall.SIGINT, wantExitOnSignal: true},
		"Quits on SIGTERM":             {signal: syscall.SIGTERM, wantExitOnSignal: true},
		"Keeps running on SIGHUP":      {signal: syscall.SIGHUP},
		"Quits on SIGHUP when it asks": {signal: syscall.SIGHUP, hupReturns: true, wantExitOnSignal: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if runtime.GOOS == "windows" && tc.signal != 0 {
				t.Skip("Signals can not be sent to the current process on Windows")
			}

			a := testApp{
				done:       make(chan struct{}),
				runErr:     tc.runErr,
				usageErr:   tc.usageErr,
				hupReturns: tc.hupReturns,
			}

			var rc int
			wait := make(chan struct{})
			go func() {
				rc = run(&a)
				close(wait)
			}()

			time.Sleep(100 * time.Millisecond)

			exited := false
			if tc.signal != 0 {
				p, err := os.FindProcess(os.Getpid())
				require.NoError(t, err, "Setup: could not find current process")
				require.NoError(t, p.Signal(tc.signal), "Setup: sending signal should return no error")

				select {
				case <-time.After(50 * time.Millisecond):
				case <-wait:
					exited = true
				}
				require.Equal(t, tc.wantExitOnSignal, exited, "Unexpected exit on signal")
			}

			if !exited {
				a.Quit()
				<-wait
			}

			require.Equal(t, tc.wantReturnCode, rc, "Return expected code")
		})
	}
}
