package main

import (
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{
		{"serve"},
		{"run-cycle"},
		{"dispatch-reminders"},
		{"retry-reminders"},
		{"redrive-events"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("expected command %v, got error %v", path, err)
		}
		if cmd.Name() != path[len(path)-1] {
			t.Fatalf("expected command %v, found %q", path, cmd.Name())
		}
	}
}

func TestServeCommandRunsSchedulerByDefault(t *testing.T) {
	serve, _, err := newRootCommand().Find([]string{"serve"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flag := serve.Flags().Lookup("scheduler")
	if flag == nil || flag.DefValue != "true" {
		t.Fatalf("expected --scheduler to default to true, got %+v", flag)
	}
}
