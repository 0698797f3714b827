package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
)

const uniqueViolation = "23505"

// unique constraints mapped to domain errors
var conflicts = map[string]error{
	"student_fee_accounts_student_year_key": fee.ErrAccountExists,
	"payment_plans_code_key":                fee.ErrPlanCodeExists,
	"fee_structures_combination_key":        fee.ErrStructureExists,
	"fee_categories_code_key":               fee.ErrCategoryExists,
}

type feeRepository struct {
	db   core.DB         // nil inside a transaction
	exec core.DBExecutor // db, or the transaction
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db core.DB) fee.Repository {
	return &feeRepository{db: db, exec: db}
}

func (repo *feeRepository) RunInTx(ctx context.Context, fn func(repo fee.Repository) error) error {
	if repo.db == nil {
		// already in a transaction
		return fn(repo)
	}
	return core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		return fn(&feeRepository{exec: tx})
	})
}

// bind runs a raw query into dest: a struct pointer or a slice pointer.
func (repo *feeRepository) bind(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return queries.Raw(query, args...).Bind(ctx, repo.exec, dest)
}

func (repo *feeRepository) execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := queries.Raw(query, args...).ExecContext(ctx, repo.exec)
	if err != nil {
		return 0, trapConflict(err)
	}
	return res.RowsAffected()
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// trapConflict maps unique violations of known constraints to their domain error.
func trapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if domainErr, ok := conflicts[pqErr.Constraint]; ok {
			return domainErr
		}
	}
	return err
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func orderBy(orderings []core.DBOrdering, allowed map[string]bool, fallback string) string {
	list := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		if allowed[ord.Field] {
			list = append(list, ord.String())
		}
	}
	if len(list) == 0 {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + strings.Join(list, ", ")
}
