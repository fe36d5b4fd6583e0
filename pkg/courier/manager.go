// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/relaynet/gateway-go/pkg/cogrpc"
)

// Status of an ongoing synchronization, reported to the UI.
type Status string

const (
	StatusCollectingCargo Status = "COLLECTING_CARGO"
	StatusWaiting         Status = "WAITING"
	StatusDeliveringCargo Status = "DELIVERING_CARGO"
	StatusComplete        Status = "COMPLETE"
)

// UnregisteredGatewayError means synchronization cannot start before the
// gateway registered with a public gateway.
type UnregisteredGatewayError struct{}

func (UnregisteredGatewayError) Error() string {
	return "gateway is not yet registered with a public gateway"
}

// DisconnectedFromCourierError means the synchronization subprocess could not
// complete its exchange with the courier.
type DisconnectedFromCourierError struct {
	Cause error
}

func (e DisconnectedFromCourierError) Error() string {
	return fmt.Sprintf("disconnected from the courier: %v", e.Cause)
}

func (e DisconnectedFromCourierError) Unwrap() error {
	return e.Cause
}

// CourierSyncError is a failure in the synchronization protocol itself, like
// an unparseable stage or a missing authorization token.
type CourierSyncError struct {
	Reason string
}

func (e CourierSyncError) Error() string {
	return "courier sync error: " + e.Reason
}

// Manager launches the synchronization subprocess and turns its stage
// notifications into UI-facing statuses.
type Manager struct {
	// Binary is the synchronization subprocess, with Args as its arguments.
	Binary string
	Args   []string
}

// IsCourierConnected probes the default route's courier port.
func IsCourierConnected() bool {
	courierIP, err := DefaultGatewayIPv4()
	if err != nil {
		return false
	}

	address := net.JoinHostPort(courierIP, strconv.Itoa(CourierPort))
	return cogrpc.Probe(address, CourierCheckTimeout, CourierCheckRetry) == nil
}

// Synchronize launches the subprocess and streams the stages it reports.
// After the stage channel is closed, the error channel yields the outcome:
// at most one error, mapped from the subprocess' exit code.
func (m *Manager) Synchronize(ctx context.Context) (<-chan Stage, <-chan error) {
	stages := make(chan Stage)
	errs := make(chan error, 1)

	cmd := exec.CommandContext(ctx, m.Binary, m.Args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errs <- err
		close(stages)
		close(errs)
		return stages, errs
	}

	go func() {
		defer close(stages)
		defer close(errs)

		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			stage, ok := ParseStageLine(scanner.Bytes())
			if !ok {
				continue
			}

			select {
			case stages <- stage:
			case <-ctx.Done():
				// The subprocess is being killed; drain its remaining output.
			}
		}

		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				switch exitErr.ExitCode() {
				case ExitUnregistered:
					errs <- UnregisteredGatewayError{}
				default:
					errs <- DisconnectedFromCourierError{
						Cause: fmt.Errorf("synchronization subprocess exited with code %d", exitErr.ExitCode()),
					}
				}
				return
			}
			errs <- err
		}
	}()

	return stages, errs
}

// SynchronizeWithCourier runs one synchronization on behalf of an authorized
// caller and streams its statuses, ending with StatusComplete on success.
// After the status channel is closed, the error channel yields at most one
// error. Cancelling ctx aborts the run.
func (m *Manager) SynchronizeWithCourier(ctx context.Context, authToken string) (<-chan Status, <-chan error) {
	if authToken == "" {
		statuses := make(chan Status)
		close(statuses)

		errs := make(chan error, 1)
		errs <- CourierSyncError{Reason: "authorization token is missing"}
		close(errs)

		return statuses, errs
	}

	stages, syncErrs := m.Synchronize(ctx)
	return streamStatuses(ctx, stages, syncErrs)
}

func streamStatuses(ctx context.Context, stages <-chan Stage, syncErrs <-chan error) (<-chan Status, <-chan error) {
	statuses := make(chan Status)
	errs := make(chan error, 1)

	go func() {
		defer close(statuses)
		defer close(errs)

		for stage := range stages {
			status, ok := statusForStage(stage)
			if !ok {
				errs <- CourierSyncError{Reason: fmt.Sprintf("synchronization reported unknown stage %q", stage)}

				go func() {
					for range stages {
					}
					if err := <-syncErrs; err != nil {
						log.WithError(err).Debug("Aborted synchronization errored")
					}
				}()
				return
			}

			select {
			case statuses <- status:
			case <-ctx.Done():
				// The consumer abandoned the stream. The subprocess is being
				// killed; its outcome still resolves the error channel.
				for range stages {
				}
				if err := <-syncErrs; err != nil {
					errs <- err
				} else {
					errs <- ctx.Err()
				}
				return
			}
		}

		if err := <-syncErrs; err != nil {
			errs <- err
			return
		}

		select {
		case statuses <- StatusComplete:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return statuses, errs
}

func statusForStage(stage Stage) (Status, bool) {
	switch stage {
	case StageCollection:
		return StatusCollectingCargo, true
	case StageWait:
		return StatusWaiting, true
	case StageDelivery:
		return StatusDeliveringCargo, true
	}
	return "", false
}
