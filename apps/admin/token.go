package main

import (
	"fmt"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/masomo-bulletins/apps/api/echo"
	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/user"
)

// token prints a signed API token; accounts themselves live in the identity service.
func (cli *commandLine) token(id, name, email string, roles []string) error {
	for _, role := range roles {
		if !user.IsKnownRole(role) {
			return core.NewValidationError(nil, core.FieldError{Field: "role", Error: fmt.Sprintf("unknown role %q", role)})
		}
	}
	usr := user.User{ID: id, Name: name, Email: email, Roles: roles}
	tok, err := echoapi.GenerateToken(usr, cli.conf)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	_, err = fmt.Fprintln(cli.out, tok)
	return err
}
