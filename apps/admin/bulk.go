package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/user"
)

var errPartialBatch = errors.New(core.CodePartialBatchFailure)

// bulk runs a sign or send batch as the given signer. Ctrl-C interrupts the items not started yet.
func (cli *commandLine) bulk(req bulletin.BulkRequest, signerID, signer, role string) error {
	if !user.IsKnownRole(role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "unknown role " + role})
	}
	svcs, err := cli.services()
	if err != nil {
		return errors.Wrap(err, "setting up services")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	actor := user.User{ID: signerID, Name: signer, Roles: []string{role}}
	res, err := svcs.coordinator.Run(ctx, actor, req)
	if err != nil {
		return errors.Wrap(err, "running bulk action")
	}

	enc := json.NewEncoder(cli.out)
	if cli.isTerminal() {
		enc.SetIndent("", "  ")
	}
	if err = enc.Encode(res); err != nil {
		return errors.Wrap(err, "printing result")
	}
	if res.HasFailures() {
		return errPartialBatch
	}
	return nil
}
