package forecast

import (
	"fmt"
	"strings"
	"time"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

const binaryPrompt = `You are a professional forecaster interviewing for a job.

Your interview question is:
%s

Question background:
%s

This question's outcome will be determined by the specific criteria below. These criteria have not yet been satisfied:
%s

%s

Your research assistant says:
%s

Today is %s.

Before answering you write:
(a) The time left until the outcome to the question is known.
(b) The status quo outcome if nothing changed.
(c) A brief description of a scenario that results in a No outcome.
(d) A brief description of a scenario that results in a Yes outcome.

You write your rationale remembering that good forecasters put extra weight on the status quo outcome since the world changes slowly most of the time.

The last thing you write is your final answer as: "Probability: ZZ%%", 0-100`

const numericPrompt = `You are a professional forecaster interviewing for a job.

Your interview question is:
%s

Background:
%s

%s

%s

Units for answer: %s

Your research assistant says:
%s

Today is %s.

%s
%s

Formatting Instructions:
- Please notice the units requested (e.g. whether you represent a number as 1,000,000 or 1 million).
- Never use scientific notation.
- Always start with a smaller number (more negative if negative) and then increase from there.

Before answering you write:
(a) The time left until the outcome to the question is known.
(b) The outcome if nothing changed.
(c) The outcome if the current trend continued.
(d) The expectations of experts and markets.
(e) A brief description of an unexpected scenario that results in a low outcome.
(f) A brief description of an unexpected scenario that results in a high outcome.

You remind yourself that good forecasters are humble and set wide 90/10 confidence intervals to account for unknown unknowns.

The last thing you write is your final answer as:
"
Percentile 10: XX
Percentile 25: XX
Percentile 50: XX
Percentile 75: XX
Percentile 90: XX
"`

const multipleChoicePrompt = `You are a professional forecaster interviewing for a job.

Your interview question is:
%s

The options are: %s

Background:
%s

%s

%s

Your research assistant says:
%s

Today is %s.

Before answering you write:
(a) The time left until the outcome to the question is known.
(b) The status quo outcome if nothing changed.
(c) A description of a scenario that results in an unexpected outcome.

You write your rationale remembering that (1) good forecasters put extra weight on the status quo outcome since the world changes slowly most of the time, and (2) good forecasters leave some moderate probability on most options to account for unexpected outcomes.

The last thing you write is your final probabilities for the %d options in this order %s as:
%s`

func buildBinaryPrompt(q *model.Question, report string, now time.Time) string {
	return fmt.Sprintf(binaryPrompt,
		q.Title,
		q.Description,
		q.ResolutionCriteria,
		q.FinePrint,
		report,
		now.Format(time.DateOnly),
	)
}

func buildNumericPrompt(q *model.Question, report string, now time.Time) string {
	unit := q.Unit
	if unit == "" {
		unit = "Not stated (please infer this)"
	}
	var lower, upper string
	if q.Scaling.RangeMax > q.Scaling.RangeMin {
		if !q.OpenLowerBound {
			lower = fmt.Sprintf("The outcome can not be lower than %v.", q.Scaling.RangeMin)
		}
		if !q.OpenUpperBound {
			upper = fmt.Sprintf("The outcome can not be higher than %v.", q.Scaling.RangeMax)
		}
	}
	return fmt.Sprintf(numericPrompt,
		q.Title,
		q.Description,
		q.ResolutionCriteria,
		q.FinePrint,
		unit,
		report,
		now.Format(time.DateOnly),
		lower,
		upper,
	)
}

func buildMultipleChoicePrompt(q *model.Question, report string, now time.Time) string {
	lines := make([]string, len(q.Options))
	for i, opt := range q.Options {
		lines[i] = fmt.Sprintf("%s: Probability_%s", opt, opt)
	}
	return fmt.Sprintf(multipleChoicePrompt,
		q.Title,
		strings.Join(q.Options, ", "),
		q.Description,
		q.ResolutionCriteria,
		q.FinePrint,
		report,
		now.Format(time.DateOnly),
		len(q.Options),
		strings.Join(q.Options, ", "),
		strings.Join(lines, "\n"),
	)
}
