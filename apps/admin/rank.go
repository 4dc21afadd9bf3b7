package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

func (cli *commandLine) rank(classID, year, term string) error {
	svcs, err := cli.services()
	if err != nil {
		return errors.Wrap(err, "setting up services")
	}
	ctx := context.Background()

	var ranking grading.Ranking
	if strings.EqualFold(term, "annual") {
		ranking, err = svcs.results.AnnualRanking(ctx, classID, year)
	} else {
		t, tErr := grade.ParseTerm(term)
		if tErr != nil {
			return tErr
		}
		ranking, err = svcs.results.ClassRanking(ctx, grade.ClassTerm{ClassID: classID, AcademicYear: year, Term: t})
	}
	if err != nil {
		return errors.Wrap(err, "ranking class")
	}
	if ranking.Size == 0 {
		return errors.Wrap(core.ErrNoData, "nobody is enrolled in this class")
	}
	return cli.printRanking(ranking)
}

// printRanking writes an aligned table on a terminal and tab-separated values otherwise.
func (cli *commandLine) printRanking(r grading.Ranking) error {
	var w io.Writer = cli.out
	var tw *tabwriter.Writer
	if cli.isTerminal() {
		tw = tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
		w = tw
		fmt.Fprintln(w, "RANK\tSTUDENT\tAVERAGE")
	}
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%d/%d\t%s\t%s\n", e.Rank, r.Size, e.StudentID, grading.Round(e.Average).StringFixed(2))
	}
	for _, id := range r.Unranked {
		fmt.Fprintf(w, "-\t%s\t-\n", id)
	}
	if tw != nil {
		return tw.Flush()
	}
	return nil
}
