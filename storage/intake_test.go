package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	session string
	ordinal int
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
	fail    bool
}

func (n *fakeNotifier) NotifyChunkUploaded(sessionID string, ordinal int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("rejected")
	}
	n.notices = append(n.notices, notice{sessionID, ordinal})
	return nil
}

func (n *fakeNotifier) got() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}

func startIntake(t *testing.T, root string, n Notifier) *Intake {
	t.Helper()
	in, err := NewIntake(root, n)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in
}

func TestIntake_AnnouncesExistingFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "s1/0.webm", "a")
	writeFile(t, root, "s1/1.webm", "b")
	writeFile(t, root, "notes.txt", "ignored")

	n := &fakeNotifier{}
	in := startIntake(t, root, n)

	require.Eventually(t, func() bool { return len(n.got()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []notice{{"s1", 0}, {"s1", 1}}, n.got())
	assert.Equal(t, 2, in.Announced())
}

func TestIntake_AnnouncesNewFiles(t *testing.T) {
	root := t.TempDir()
	n := &fakeNotifier{}
	startIntake(t, root, n)
	time.Sleep(100 * time.Millisecond) // let the watcher attach

	writeFile(t, root, "s9/3.webm", "x")

	require.Eventually(t, func() bool { return len(n.got()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, notice{"s9", 3}, n.got()[0])
}

func TestIntake_UnchangedFileNotAnnouncedTwice(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "s1/0.webm", "a")
	n := &fakeNotifier{}
	in, err := NewIntake(root, n)
	require.NoError(t, err)

	in.process("s1/0.webm")
	in.process("s1/0.webm")
	assert.Len(t, n.got(), 1)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(root, "s1", "0.webm"), later, later))
	in.process("s1/0.webm")
	assert.Len(t, n.got(), 2)
}

func TestIntake_FailedAnnouncementIsRetried(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "s1/0.webm", "a")
	n := &fakeNotifier{fail: true}
	in, err := NewIntake(root, n)
	require.NoError(t, err)

	in.process("s1/0.webm")
	assert.Equal(t, 0, in.Announced())

	n.mu.Lock()
	n.fail = false
	n.mu.Unlock()
	in.process("s1/0.webm")
	assert.Equal(t, 1, in.Announced())
}

func TestIntake_IgnoresMissingAndUnparseable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "s1/readme.md", "x")
	n := &fakeNotifier{}
	in, err := NewIntake(root, n)
	require.NoError(t, err)

	in.process("s1/readme.md")
	in.process("s1/404.webm")
	in.process(fmt.Sprintf("s1/%d.webm", 5))
	assert.Empty(t, n.got())
}
