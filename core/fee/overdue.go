package fee

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type OverdueResult struct {
	AsOf              time.Time `json:"as_of"`
	SchedulesMarked   int       `json:"schedules_marked"`
	AccountsRefreshed int       `json:"accounts_refreshed"`
}

// OverdueState returns how many days the oldest overdue installment is late as of now, and its due date.
func OverdueState(schedules []Schedule, now time.Time) (int, *time.Time) {
	var oldest *time.Time
	for i := range schedules {
		s := schedules[i]
		if s.Status != ScheduleOverdue {
			continue
		}
		if oldest == nil || s.DueDate.Before(*oldest) {
			due := s.DueDate
			oldest = &due
		}
	}
	if oldest == nil {
		return 0, nil
	}
	days := int(truncateDay(now).Sub(truncateDay(*oldest)).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, oldest
}

// MarkOverdue flags every unpaid installment due before asOf as overdue and refreshes the overdue state
// of the accounts holding overdue installments.
func (svc *Service) MarkOverdue(ctx context.Context, asOf time.Time) (OverdueResult, error) {
	if asOf.IsZero() {
		asOf = NowFunc()
	}
	asOf = truncateDay(asOf)
	result := OverdueResult{AsOf: asOf}

	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		due, err := repo.QuerySchedules(ctx, ScheduleFilter{
			Statuses:  []ScheduleStatus{SchedulePending, SchedulePartiallyPaid},
			DueBefore: asOf,
		})
		if err != nil {
			return errors.Wrap(err, "querying due schedules")
		}
		for _, s := range due {
			s.Status = ScheduleOverdue
			if err = repo.UpdateSchedule(ctx, s); err != nil {
				return errors.Wrap(err, "updating payment schedule")
			}
		}
		result.SchedulesMarked = len(due)

		overdue, err := repo.QuerySchedules(ctx, ScheduleFilter{Statuses: []ScheduleStatus{ScheduleOverdue}})
		if err != nil {
			return errors.Wrap(err, "querying overdue schedules")
		}
		byAccount := make(map[string][]Schedule)
		var accountIDs []string
		for _, s := range overdue {
			if _, ok := byAccount[s.AccountID]; !ok {
				accountIDs = append(accountIDs, s.AccountID)
			}
			byAccount[s.AccountID] = append(byAccount[s.AccountID], s)
		}

		for _, id := range accountIDs {
			account, err := repo.LockAccount(ctx, id)
			if err != nil {
				return errors.Wrap(err, "getting fee account")
			}
			days, oldest := OverdueState(byAccount[id], asOf)
			if days == account.DaysOverdue && sameDay(oldest, account.OldestOverdueDate) {
				continue
			}
			account.DaysOverdue, account.OldestOverdueDate = days, oldest
			account.UpdatedAt = NowFunc().UTC()
			if err = repo.UpdateAccount(ctx, account); err != nil {
				return errors.Wrap(err, "updating fee account")
			}
			result.AccountsRefreshed++
		}
		return nil
	})
	if err != nil {
		return OverdueResult{}, err
	}

	if result.SchedulesMarked > 0 {
		svc.logger.Info("overdue sweep done", map[string]interface{}{
			"as_of":              asOf.Format(dateLayout),
			"schedules_marked":   result.SchedulesMarked,
			"accounts_refreshed": result.AccountsRefreshed,
		})
	}
	return result, nil
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return truncateDay(*a).Equal(truncateDay(*b))
}
