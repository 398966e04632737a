// Package worker handles the background tasks defined in package queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/kikuyu-catholic-sheets/sheets/internal/mail"
	"github.com/kikuyu-catholic-sheets/sheets/internal/objectstore"
	pdfutil "github.com/kikuyu-catholic-sheets/sheets/internal/pdf"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
)

// Processor is plugged into the asynq worker loop, or into queue.Inline.
type Processor struct {
	scores  *repository.ScoreRepository
	objects objectstore.Store
	mailer  mail.Sender
	log     *log.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(scores *repository.ScoreRepository, objects objectstore.Store, mailer mail.Sender, logger *log.Logger) *Processor {
	return &Processor{scores: scores, objects: objects, mailer: mailer, log: logger}
}

// Handler registers every task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.InspectScoreTask, p.handleInspect)
	mux.HandleFunc(queue.ReclaimObjectTask, p.handleReclaim)
	mux.HandleFunc(queue.PasswordResetTask, p.handlePasswordReset)
	return mux
}

// handleInspect records the page count. An unreadable PDF is not an error:
// the MIME type was the only check uploads promise.
func (p *Processor) handleInspect(ctx context.Context, task *asynq.Task) error {
	var payload queue.InspectPayload
	if err := queue.Decode(task, &payload); err != nil {
		return err
	}
	data, err := p.objects.Get(ctx, payload.FilePath)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", payload.ScoreID, err)
	}
	pages, err := pdfutil.CountPages(data)
	if err != nil {
		p.log.Warn("could not count pages", "score", payload.ScoreID, "err", err)
		return nil
	}
	if err := p.scores.SetPages(ctx, payload.ScoreID, pages); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.log.Info("score deleted before inspection", "score", payload.ScoreID)
			return nil
		}
		return fmt.Errorf("inspect %s: %w", payload.ScoreID, err)
	}
	p.log.Info("score inspected", "score", payload.ScoreID, "pages", pages)
	return nil
}

// handleReclaim deletes the object unless a record references it by now.
func (p *Processor) handleReclaim(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReclaimPayload
	if err := queue.Decode(task, &payload); err != nil {
		return err
	}
	reclaimed, err := Reclaim(ctx, p.scores, p.objects, payload.Path)
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", payload.Path, err)
	}
	if reclaimed {
		p.log.Info("orphaned file removed", "path", payload.Path)
	}
	return nil
}

func (p *Processor) handlePasswordReset(ctx context.Context, task *asynq.Task) error {
	var payload queue.PasswordResetPayload
	if err := queue.Decode(task, &payload); err != nil {
		return err
	}
	msg := mail.Message{
		To:      payload.Email,
		Subject: "Reset your Kikuyu Catholic Sheets password",
		Body: "Someone asked to reset the password for this address.\n\n" +
			"Open this link to choose a new password:\n" + payload.Link + "\n\n" +
			"If you did not ask for this you can ignore this message.\n",
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("password reset mail: %w", err)
	}
	return nil
}

// Reclaim deletes path when no score references it and reports whether it
// did. Objects that are already gone count as reclaimed.
func Reclaim(ctx context.Context, scores *repository.ScoreRepository, objects objectstore.Store, path string) (bool, error) {
	referenced, err := scores.ReferencesPath(ctx, path)
	if err != nil {
		return false, err
	}
	if referenced {
		return false, nil
	}
	if err := objects.Delete(ctx, path); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// SweepResult summarises one Sweep.
type SweepResult struct {
	Checked int
	// Recent counts objects skipped for being newer than the cutoff.
	Recent  int
	Orphans []objectstore.Object
}

// Sweep reclaims every unreferenced object under prefix last modified before
// cutoff. Newer objects may belong to an upload whose record is still being
// written and are left alone. With dryRun set orphans are reported but kept.
func Sweep(ctx context.Context, scores *repository.ScoreRepository, objects objectstore.Store, prefix string, cutoff time.Time, dryRun bool) (SweepResult, error) {
	list, err := objects.List(ctx, prefix)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Checked: len(list)}
	for _, obj := range list {
		if obj.LastModified.After(cutoff) {
			res.Recent++
			continue
		}
		if dryRun {
			referenced, err := scores.ReferencesPath(ctx, obj.Path)
			if err != nil {
				return res, err
			}
			if !referenced {
				res.Orphans = append(res.Orphans, obj)
			}
			continue
		}
		removed, err := Reclaim(ctx, scores, objects, obj.Path)
		if err != nil {
			return res, fmt.Errorf("reclaim %s: %w", obj.Path, err)
		}
		if removed {
			res.Orphans = append(res.Orphans, obj)
		}
	}
	return res, nil
}
