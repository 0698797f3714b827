package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
	"github.com/trezcool/masomo-fees/fs"
	"github.com/trezcool/masomo-fees/services/logger"
	"github.com/trezcool/masomo-fees/storage/database/dummy"
)

const (
	SchoolID     = "school-1"
	SchoolYearID = "sy-2024"
	GradeLevel   = "Grade 7"
)

// Now is the frozen clock of the fee service in tests.
var Now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Fees.Currency = "PHP"
	conf.Fees.DueDateOffsetDays = 7
	conf.Fees.InstallmentIntervalDays = 30
	return conf
}

// NewLogger returns a logger writing nowhere, with rollbar disabled.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// ParseTemplates loads the embedded email templates once per test binary.
func ParseTemplates(conf *core.Config, logger core.Logger) {
	core.ParseEmailTemplates(appfs.FS, conf, logger)
}

// FreezeTime pins fee.NowFunc to Now for the duration of the test.
func FreezeTime(t *testing.T) {
	orig := fee.NowFunc
	fee.NowFunc = func() time.Time { return Now }
	t.Cleanup(func() { fee.NowFunc = orig })
}

// School is a seeded school year: a grade 7 student, tuition and miscellaneous fees, and the default plans.
type School struct {
	DB            *dummydb.DB
	Repo          fee.Repository
	Student       fee.Student
	Tuition       fee.FeeCategory
	Miscellaneous fee.FeeCategory
	Plans         map[string]fee.PaymentPlan // by code
}

func SeedSchool(t *testing.T) *School {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	s := &School{DB: db, Repo: dummydb.NewFeeRepository(db), Plans: make(map[string]fee.PaymentPlan)}

	s.Student = AddStudent(t, db, "Juan Dela Cruz", "")
	s.Tuition = db.AddFeeCategory(fee.FeeCategory{
		SchoolID: SchoolID, Name: "Tuition", Code: "TUITION", Category: fee.CategoryTuition,
		IsRequired: true, SortOrder: 1, IsActive: true,
	})
	s.Miscellaneous = db.AddFeeCategory(fee.FeeCategory{
		SchoolID: SchoolID, Name: "Miscellaneous", Code: "MISC", Category: fee.CategoryMiscellaneous,
		IsRequired: true, SortOrder: 2, IsActive: true,
	})
	AddStructure(t, s.Repo, s.Tuition, "Tuition Fee", "", 20000)
	AddStructure(t, s.Repo, s.Miscellaneous, "Miscellaneous Fee", "", 5000)

	for _, p := range fee.DefaultPlans() {
		p.SchoolID = SchoolID
		p.SchoolYearID = SchoolYearID
		p.CreatedAt = Now
		saved, err := s.Repo.CreatePaymentPlan(context.Background(), p)
		if err != nil {
			t.Fatalf("CreatePaymentPlan(%s) failed: %v", p.Code, err)
		}
		s.Plans[saved.Code] = saved
	}
	return s
}

func AddStudent(t *testing.T, db *dummydb.DB, name, sectionID string) fee.Student {
	t.Helper()
	return db.AddStudent(fee.Student{
		SchoolID:         SchoolID,
		Name:             name,
		GradeLevel:       GradeLevel,
		SectionID:        sectionID,
		EnrollmentStatus: "enrolled",
		GuardianName:     "Maria Dela Cruz",
		GuardianEmail:    "maria@example.com",
	})
}

func AddStructure(t *testing.T, repo fee.Repository, cat fee.FeeCategory, name, sectionID string, amount int64) fee.FeeStructure {
	t.Helper()
	s, err := repo.CreateFeeStructure(context.Background(), fee.FeeStructure{
		SchoolID:      SchoolID,
		SchoolYearID:  SchoolYearID,
		FeeCategoryID: cat.ID,
		Name:          name,
		GradeLevel:    GradeLevel,
		SectionID:     sectionID,
		Category:      cat.Category,
		CategoryName:  cat.Name,
		IsRequired:    cat.IsRequired,
		Amount:        decimal.NewFromInt(amount),
		IsActive:      true,
		CreatedAt:     Now,
		UpdatedAt:     Now,
	})
	if err != nil {
		t.Fatalf("CreateFeeStructure(%s) failed: %v", name, err)
	}
	return s
}
