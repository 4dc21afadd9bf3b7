package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/results"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

type (
	// services are built on first use so that `migrate` and `token` do not need a database.
	services struct {
		results     *results.Service
		coordinator *bulletin.Coordinator
	}

	commandLine struct {
		conf     *core.Config
		out      io.Writer
		openDB   func() (*sql.DB, error)
		services func() (services, error)
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, version, redo, reset...)")
	fmt.Fprintln(cli.out, "  token -id ID -name NAME -role ROLE[,ROLE] - issue an API token")
	fmt.Fprintln(cli.out, "  rank -class CLASS -year YYYY-YYYY -term T1|T2|T3|annual - print a class ranking")
	fmt.Fprintln(cli.out, "  bulk -action sign|send -ids ID[,ID] -signer NAME -role ROLE - sign or send bulletins")
}

// isTerminal reports whether the output is an interactive terminal.
func (cli *commandLine) isTerminal() bool {
	f, ok := cli.out.(*os.File)
	return ok && isTerminalFunc(int(f.Fd()))
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenID := tokenCmd.String("id", "", "The user's id in the identity service.")
	tokenName := tokenCmd.String("name", "", "The user's display name.")
	tokenEmail := tokenCmd.String("email", "", "The user's email.")
	tokenRoles := tokenCmd.String("role", "", "Comma-separated roles, eg. admin:principal or teacher:")

	rankCmd := flag.NewFlagSet("rank", flag.ContinueOnError)
	rankCmd.SetOutput(cli.out)
	rankClass := rankCmd.String("class", "", "The class id.")
	rankYear := rankCmd.String("year", "", "The academic year, eg. 2024-2025.")
	rankTerm := rankCmd.String("term", "", "T1, T2, T3 or annual.")

	bulkCmd := flag.NewFlagSet("bulk", flag.ContinueOnError)
	bulkCmd.SetOutput(cli.out)
	bulkAction := bulkCmd.String("action", "", "sign or send.")
	bulkIDs := bulkCmd.String("ids", "", "Comma-separated bulletin ids.")
	bulkSignerID := bulkCmd.String("signer-id", "", "The signer's id; defaults to the signer's name.")
	bulkSigner := bulkCmd.String("signer", "", "The signer's name, printed on the bulletins.")
	bulkRole := bulkCmd.String("role", "", "The signer's role, eg. admin:principal")
	bulkChannels := bulkCmd.String("channels", "", "Comma-separated channels (mail, sms, chat); defaults to the configured ones.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenID == "" || *tokenRoles == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenID, *tokenName, *tokenEmail, splitList(*tokenRoles))

	case "rank":
		if err := rankCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rankClass == "" || *rankYear == "" || *rankTerm == "" {
			rankCmd.Usage()
			return errHelp
		}
		return cli.rank(*rankClass, *rankYear, *rankTerm)

	case "bulk":
		if err := bulkCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *bulkAction == "" || *bulkIDs == "" || *bulkSigner == "" || *bulkRole == "" {
			bulkCmd.Usage()
			return errHelp
		}
		signerID := *bulkSignerID
		if signerID == "" {
			signerID = *bulkSigner
		}
		return cli.bulk(bulletin.BulkRequest{
			IDs:      splitList(*bulkIDs),
			Action:   bulletin.Action(*bulkAction),
			Channels: splitList(*bulkChannels),
		}, signerID, *bulkSigner, *bulkRole)

	default:
		cli.printUsage()
		return errHelp
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
