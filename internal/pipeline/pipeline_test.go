package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"medstudy/pkg/domain"
	"medstudy/pkg/queue"
	"medstudy/pkg/store"
)

type fakeBlobs struct {
	objects map[string][]byte
	gets    int
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	f.gets++
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(context.Context, string) (string, error) {
	return f.text, f.err
}

type taskRecorder struct {
	updates []queue.TaskStatus
}

func (r *taskRecorder) Update(_ context.Context, _ string, task queue.TaskStatus) error {
	r.updates = append(r.updates, task)
	return nil
}

func (r *taskRecorder) last(t *testing.T) queue.TaskStatus {
	t.Helper()
	if len(r.updates) == 0 {
		t.Fatal("no task updates recorded")
	}
	return r.updates[len(r.updates)-1]
}

func staticTitle(title string, err error) TitleFunc {
	return func(context.Context, string) (string, error) { return title, err }
}

func newTestJob() queue.JobStatus {
	return queue.JobStatus{ID: "job-1", FileHash: "hash-1", UserID: "user-1", Filename: "lecture.pdf"}
}

func seedFile(t *testing.T, s store.Store) {
	t.Helper()
	err := s.SaveFile(domain.FileRecord{
		FileHash:    "hash-1",
		Filename:    "lecture.pdf",
		Bucket:      "pdfs",
		StoragePath: "hash-1.pdf",
	})
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := s.CreateUser(domain.User{ID: "user-1", Email: "a@b.c"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestProcessHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	seedFile(t, st)
	blobs := &fakeBlobs{objects: map[string][]byte{"hash-1.pdf": []byte("%PDF-1.4")}}
	tasks := &taskRecorder{}
	p := NewProcessor(st, blobs, &fakeExtractor{text: "[Page 1]: cardio notes"}, staticTitle("Cardiology Notes", nil), tasks, nil)

	if err := p.Process(context.Background(), newTestJob()); err != nil {
		t.Fatalf("process: %v", err)
	}

	rec, found, err := st.GetFile("hash-1")
	if err != nil || !found {
		t.Fatalf("get file: found=%v err=%v", found, err)
	}
	if rec.Text != "[Page 1]: cardio notes" || rec.ShortTitle != "Cardiology Notes" {
		t.Fatalf("record not persisted: %+v", rec)
	}

	files, err := st.ListUserFiles("user-1")
	if err != nil || len(files) != 1 {
		t.Fatalf("file not linked: files=%v err=%v", files, err)
	}

	last := tasks.last(t)
	if last.Status != queue.TaskSuccess {
		t.Fatalf("final task status = %s, want %s", last.Status, queue.TaskSuccess)
	}
	var stages []string
	for _, u := range tasks.updates {
		if u.Status == queue.TaskInProgress {
			stages = append(stages, u.Message)
		}
	}
	want := []string{StageDownloading, StageExtracting, StageTitling, StagePersisting, StageLinking}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
}

func TestProcessTitlingFailureFallsBack(t *testing.T) {
	st := store.NewMemoryStore()
	seedFile(t, st)
	blobs := &fakeBlobs{objects: map[string][]byte{"hash-1.pdf": []byte("%PDF-1.4")}}
	p := NewProcessor(st, blobs, &fakeExtractor{text: "some text"}, staticTitle("", errors.New("model down")), &taskRecorder{}, nil)

	if err := p.Process(context.Background(), newTestJob()); err != nil {
		t.Fatalf("titling failure must not fail the job: %v", err)
	}

	rec, _, _ := st.GetFile("hash-1")
	if rec.ShortTitle != domain.UntitledTitle {
		t.Fatalf("title = %q, want placeholder", rec.ShortTitle)
	}
	ex, err := st.FileExists("hash-1")
	if err != nil {
		t.Fatalf("file exists: %v", err)
	}
	if ex.Exists {
		t.Fatal("placeholder-titled file must not count as fully processed")
	}
}

func TestProcessExtractionFailureReportsFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedFile(t, st)
	blobs := &fakeBlobs{objects: map[string][]byte{"hash-1.pdf": []byte("%PDF-1.4")}}
	tasks := &taskRecorder{}
	p := NewProcessor(st, blobs, &fakeExtractor{err: errors.New("no text extracted from pdf")}, staticTitle("x", nil), tasks, nil)

	if err := p.Process(context.Background(), newTestJob()); err == nil {
		t.Fatal("expected extraction error to propagate")
	}

	last := tasks.last(t)
	if last.Status != queue.TaskFailure {
		t.Fatalf("final task status = %s, want %s", last.Status, queue.TaskFailure)
	}
	if !strings.Contains(last.Message, "no text extracted") {
		t.Fatalf("failure message must carry the cause: %q", last.Message)
	}
}

func TestProcessMissingRecordFails(t *testing.T) {
	st := store.NewMemoryStore()
	tasks := &taskRecorder{}
	p := NewProcessor(st, &fakeBlobs{objects: map[string][]byte{}}, &fakeExtractor{text: "x"}, staticTitle("x", nil), tasks, nil)

	if err := p.Process(context.Background(), newTestJob()); err == nil {
		t.Fatal("expected error for missing file record")
	}
	if tasks.last(t).Status != queue.TaskFailure {
		t.Fatal("missing record must be reported as failure")
	}
}

func TestProcessRetryOfFinishedJobOnlyRelinks(t *testing.T) {
	st := store.NewMemoryStore()
	seedFile(t, st)
	if err := st.SetFileText("hash-1", "already extracted", "Real Title"); err != nil {
		t.Fatalf("seed text: %v", err)
	}
	blobs := &fakeBlobs{objects: map[string][]byte{"hash-1.pdf": []byte("%PDF-1.4")}}
	tasks := &taskRecorder{}
	p := NewProcessor(st, blobs, &fakeExtractor{err: errors.New("must not run")}, staticTitle("x", nil), tasks, nil)

	if err := p.Process(context.Background(), newTestJob()); err != nil {
		t.Fatalf("re-run of finished job: %v", err)
	}
	if blobs.gets != 0 {
		t.Fatalf("finished job must not re-download, gets=%d", blobs.gets)
	}
	if tasks.last(t).Status != queue.TaskSuccess {
		t.Fatalf("final status = %s, want %s", tasks.last(t).Status, queue.TaskSuccess)
	}
	if files, _ := st.ListUserFiles("user-1"); len(files) != 1 {
		t.Fatal("re-run must still link the file")
	}
}
