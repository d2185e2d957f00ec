// Package market models the job-marketplace contract generation: jobs and the
// bids placed on them.
package market

import (
	"math/big"
	"strings"

	"trustwork/internal/chainvalue"
)

// Tuple keys returned by get-job.
const (
	fieldCreator            = "creator"
	fieldTitle              = "title"
	fieldDescription        = "description"
	fieldCategory           = "category"
	fieldBudget             = "budget"
	fieldDeadline           = "deadline"
	fieldStatus             = "status"
	fieldSelectedFreelancer = "selected-freelancer"
	fieldWorkSubmittedBy    = "work-submitted-by"
	fieldWorkDescription    = "work-description"
	fieldCreatorFeedback    = "creator-feedback"
	fieldCreatedAt          = "created-at"
)

// Job is one marketplace listing. Budget is in micro-units (6 decimals);
// Deadline and CreatedAt are chain heights.
type Job struct {
	ID                 uint64    `json:"id"`
	Creator            string    `json:"creator"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	Budget             *big.Int  `json:"budget"`
	Deadline           uint64    `json:"deadline"`
	Status             JobStatus `json:"status"`
	SelectedFreelancer *string   `json:"selectedFreelancer,omitempty"`
	WorkSubmittedBy    *string   `json:"workSubmittedBy,omitempty"`
	WorkDescription    *string   `json:"workDescription,omitempty"`
	CreatorFeedback    *string   `json:"creatorFeedback,omitempty"`
	CreatedAt          uint64    `json:"createdAt"`
}

// ToJob maps a decoded get-job tuple. A none value means the id does not exist.
func ToJob(v chainvalue.Value, id uint64) (Job, error) {
	if v.IsNone() {
		return Job{}, chainvalue.ErrNotFound
	}
	var (
		job = Job{ID: id}
		err error
	)
	if job.Creator, err = v.RequireText(fieldCreator); err != nil {
		return Job{}, err
	}
	if job.Title, err = v.RequireText(fieldTitle); err != nil {
		return Job{}, err
	}
	if job.Description, err = v.RequireText(fieldDescription); err != nil {
		return Job{}, err
	}
	if job.Category, err = v.RequireText(fieldCategory); err != nil {
		return Job{}, err
	}
	if job.Budget, err = v.RequireBigInt(fieldBudget); err != nil {
		return Job{}, err
	}
	if job.Deadline, err = v.RequireUint(fieldDeadline); err != nil {
		return Job{}, err
	}
	if job.CreatedAt, err = v.RequireUint(fieldCreatedAt); err != nil {
		return Job{}, err
	}
	code, err := v.RequireUint(fieldStatus)
	if err != nil {
		return Job{}, err
	}
	if job.Status, err = ParseJobStatus(code); err != nil {
		return Job{}, err
	}
	if job.SelectedFreelancer, err = optionalText(v, fieldSelectedFreelancer); err != nil {
		return Job{}, err
	}
	if job.WorkSubmittedBy, err = optionalText(v, fieldWorkSubmittedBy); err != nil {
		return Job{}, err
	}
	if job.WorkDescription, err = optionalText(v, fieldWorkDescription); err != nil {
		return Job{}, err
	}
	if job.CreatorFeedback, err = optionalText(v, fieldCreatorFeedback); err != nil {
		return Job{}, err
	}
	if job.Budget.Sign() < 0 {
		return Job{}, chainvalue.Errorf(chainvalue.Malformed, fieldBudget, "negative budget %s", job.Budget)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks the assignment and work-submission invariants.
//
// A freelancer is selected exactly while the job is IN_PROGRESS through
// DISPUTED; CANCELLED jobs may or may not have had one. Work is described
// exactly from WORK_SUBMITTED on; a DISPUTED job may have been disputed
// before or after submission.
func (j Job) Validate() error {
	hasFreelancer := j.SelectedFreelancer != nil
	hasWork := j.WorkDescription != nil

	switch j.Status {
	case JobOpen:
		if hasFreelancer {
			return violation(fieldSelectedFreelancer, "set while job is %s", j.Status)
		}
		if hasWork {
			return violation(fieldWorkDescription, "set while job is %s", j.Status)
		}
	case JobInProgress:
		if !hasFreelancer {
			return violation(fieldSelectedFreelancer, "missing while job is %s", j.Status)
		}
		if hasWork {
			return violation(fieldWorkDescription, "set while job is %s", j.Status)
		}
	case JobWorkSubmitted, JobCompleted:
		if !hasFreelancer {
			return violation(fieldSelectedFreelancer, "missing while job is %s", j.Status)
		}
		if !hasWork {
			return violation(fieldWorkDescription, "missing while job is %s", j.Status)
		}
	case JobDisputed:
		if !hasFreelancer {
			return violation(fieldSelectedFreelancer, "missing while job is %s", j.Status)
		}
	case JobCancelled:
		if hasWork {
			return violation(fieldWorkDescription, "set while job is %s", j.Status)
		}
	}
	if j.WorkSubmittedBy != nil && hasFreelancer && !SameAddress(*j.WorkSubmittedBy, *j.SelectedFreelancer) {
		return violation(fieldWorkSubmittedBy, "%s is not the selected freelancer", *j.WorkSubmittedBy)
	}
	return nil
}

// SameAddress compares principals case-insensitively. Empty never matches.
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func violation(field, format string, args ...any) error {
	return chainvalue.Errorf(chainvalue.InvariantViolation, field, format, args...)
}

func optionalText(v chainvalue.Value, field string) (*string, error) {
	s, ok, err := v.OptionalText(field)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// Tuple renders the job in the shape get-job returns.
func (j Job) Tuple() chainvalue.Value {
	return chainvalue.Tuple(map[string]chainvalue.Value{
		fieldCreator:            chainvalue.Principal(j.Creator),
		fieldTitle:              chainvalue.StringUTF8(j.Title),
		fieldDescription:        chainvalue.StringUTF8(j.Description),
		fieldCategory:           chainvalue.StringUTF8(j.Category),
		fieldBudget:             chainvalue.Uint(j.Budget),
		fieldDeadline:           chainvalue.Uint64(j.Deadline),
		fieldStatus:             chainvalue.Uint64(uint64(j.Status)),
		fieldSelectedFreelancer: optionalPrincipal(j.SelectedFreelancer),
		fieldWorkSubmittedBy:    optionalPrincipal(j.WorkSubmittedBy),
		fieldWorkDescription:    optionalUTF8(j.WorkDescription),
		fieldCreatorFeedback:    optionalUTF8(j.CreatorFeedback),
		fieldCreatedAt:          chainvalue.Uint64(j.CreatedAt),
	})
}

func optionalPrincipal(s *string) chainvalue.Value {
	if s == nil {
		return chainvalue.None()
	}
	return chainvalue.Some(chainvalue.Principal(*s))
}

func optionalUTF8(s *string) chainvalue.Value {
	if s == nil {
		return chainvalue.None()
	}
	return chainvalue.Some(chainvalue.StringUTF8(*s))
}
