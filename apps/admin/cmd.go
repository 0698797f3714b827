package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
	"github.com/trezcool/masomo-fees/storage/database"
)

var (
	createDBFunc = database.CreateIfNotExist // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf   *core.Config
	db     *sql.DB
	feeSvc *fee.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createdb - create the app database and user if they do not exist")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command against the embedded migrations (up, down, status...)")
	fmt.Println("  mark-overdue [-as-of YYYY-MM-DD] - flag unpaid installments due before the date as overdue")
	fmt.Println("  seed-plans -school SCHOOL_ID -year SCHOOL_YEAR_ID - create the default payment plans of a school year")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	markOverdueCmd := flag.NewFlagSet("mark-overdue", flag.ContinueOnError)
	markOverdueAsOf := markOverdueCmd.String("as-of", "", "The sweep date, formatted as YYYY-MM-DD. Defaults to today.")

	seedPlansCmd := flag.NewFlagSet("seed-plans", flag.ContinueOnError)
	seedPlansSchool := seedPlansCmd.String("school", "", "The school id.")
	seedPlansYear := seedPlansCmd.String("year", "", "The school year id.")

	ctx := context.Background()

	switch args[1] {
	case "createdb":
		return createDBFunc(ctx, cli.conf)
	case "migrate":
		if len(args) < 3 {
			fmt.Println("Usage: migrate COMMAND [ARGS]")
			return errHelp
		}
		return cli.migrate(args[2:])
	case "mark-overdue":
		if err := markOverdueCmd.Parse(args[2:]); err != nil {
			return err
		}
		var asOf time.Time
		if *markOverdueAsOf != "" {
			t, err := time.Parse("2006-01-02", *markOverdueAsOf)
			if err != nil {
				return fmt.Errorf("as-of must be a date formatted as YYYY-MM-DD (got '%s')", *markOverdueAsOf)
			}
			asOf = t
		}
		return cli.markOverdue(ctx, asOf)
	case "seed-plans":
		if err := seedPlansCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedPlansSchool == "" || *seedPlansYear == "" {
			seedPlansCmd.Usage()
			return errHelp
		}
		return cli.seedPlans(ctx, *seedPlansSchool, *seedPlansYear)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) markOverdue(ctx context.Context, asOf time.Time) error {
	res, err := cli.feeSvc.MarkOverdue(ctx, asOf)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d installment(s) marked overdue, %d account(s) refreshed\n",
		res.AsOf.Format("2006-01-02"), res.SchedulesMarked, res.AccountsRefreshed)
	return nil
}

func (cli *commandLine) seedPlans(ctx context.Context, schoolID, schoolYearID string) error {
	plans, err := cli.feeSvc.CreateDefaultPaymentPlans(ctx, fee.DefaultPlansRequest{SchoolID: schoolID, SchoolYearID: schoolYearID})
	if err != nil {
		return err
	}
	for _, p := range plans {
		fmt.Printf("created %s (%s)\n", p.Name, p.Code)
	}
	return nil
}
