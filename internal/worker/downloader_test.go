package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"torrentdrive/internal/domain"
)

func newTestDownloader(eng *fakeEngine, uploads Submitter) (*Downloader, *memJobRepo) {
	jobs, repo := newTestJobs()
	d := NewDownloader(jobs, eng, uploads, nil)
	d.pollInterval = 10 * time.Millisecond
	return d, repo
}

func TestDownloader_CompletesAndHandsOffToUpload(t *testing.T) {
	eng := newFakeEngine()
	uploads := &recordingSubmitter{}
	d, repo := newTestDownloader(eng, uploads)

	seedJob(repo, "job-1", domain.StateMetadataReady, nil)
	eng.setComplete("job-1")

	d.Run(context.Background(), Request{JobID: "job-1"})

	if got := jobState(repo, "job-1"); got != domain.StateCompleted {
		t.Errorf("expected state completed, got %s", got)
	}
	reqs := uploads.submitted()
	if len(reqs) != 1 || reqs[0].JobID != "job-1" {
		t.Errorf("expected one upload handoff for job-1, got %v", reqs)
	}
}

func TestDownloader_CancelParksJobPaused(t *testing.T) {
	eng := newFakeEngine()
	uploads := &recordingSubmitter{}
	d, repo := newTestDownloader(eng, uploads)

	seedJob(repo, "job-1", domain.StateMetadataReady, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, Request{JobID: "job-1"})
	}()

	if !waitFor(time.Second, func() bool { return jobState(repo, "job-1") == domain.StateDownloading }) {
		t.Fatal("job never entered downloading")
	}
	cancel()
	<-done

	if got := jobState(repo, "job-1"); got != domain.StatePaused {
		t.Errorf("expected state paused after cancel, got %s", got)
	}
	if len(eng.paused) != 1 || eng.paused[0] != "job-1" {
		t.Errorf("expected engine pause for job-1, got %v", eng.paused)
	}
	if len(uploads.submitted()) != 0 {
		t.Error("cancelled download must not reach the upload pool")
	}
}

func TestDownloader_EngineFailureMarksError(t *testing.T) {
	eng := newFakeEngine()
	eng.beginErr = errors.New("no peers")
	uploads := &recordingSubmitter{}
	d, repo := newTestDownloader(eng, uploads)

	seedJob(repo, "job-1", domain.StateMetadataReady, nil)

	d.Run(context.Background(), Request{JobID: "job-1"})

	if got := jobState(repo, "job-1"); got != domain.StateError {
		t.Errorf("expected state error, got %s", got)
	}
	job, err := repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Progress == nil || job.Progress.Error != "no peers" {
		t.Errorf("expected failure message preserved on progress, got %+v", job.Progress)
	}
}

func TestDownloader_ReleasesSlotWhenJobDeleted(t *testing.T) {
	eng := newFakeEngine()
	uploads := &recordingSubmitter{}
	d, repo := newTestDownloader(eng, uploads)

	seedJob(repo, "job-1", domain.StateMetadataReady, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background(), Request{JobID: "job-1"})
	}()

	if !waitFor(time.Second, func() bool { return jobState(repo, "job-1") == domain.StateDownloading }) {
		t.Fatal("job never entered downloading")
	}
	repo.Delete(context.Background(), "job-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("execution did not exit after job deletion")
	}
}

func TestDownloader_RejectsJobInWrongState(t *testing.T) {
	eng := newFakeEngine()
	uploads := &recordingSubmitter{}
	d, repo := newTestDownloader(eng, uploads)

	seedJob(repo, "job-1", domain.StateUploaded, nil)

	d.Run(context.Background(), Request{JobID: "job-1"})

	if got := jobState(repo, "job-1"); got != domain.StateUploaded {
		t.Errorf("terminal job must stay put, got %s", got)
	}
	if len(eng.began) != 0 {
		t.Errorf("engine must not start for a terminal job, began %v", eng.began)
	}
}
