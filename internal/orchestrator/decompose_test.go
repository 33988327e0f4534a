package orchestrator

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecomposeDeterministic(t *testing.T) {
	a := Decompose("build a phaser game", []string{"phaser", "javascript"})
	b := Decompose("build a phaser game", []string{"javascript", "phaser"})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("technology order changed the decomposition:\n%+v\n%+v", a, b)
	}
	if len(a) == 0 {
		t.Fatal("no subtasks")
	}
}

func TestDecomposeGameIntents(t *testing.T) {
	tasks := Decompose("build a phaser game", []string{"phaser"})
	joined := strings.Join(tasks[0].TestIntents, "\n")
	for _, want := range []string{"lifecycle", "physics", "uses phaser"} {
		if !strings.Contains(joined, want) {
			t.Errorf("intents missing %q:\n%s", want, joined)
		}
	}
}

func TestDecomposeGenericIntents(t *testing.T) {
	tasks := Decompose("write a json parser", nil)
	joined := strings.Join(tasks[0].TestIntents, "\n")
	if strings.Contains(joined, "lifecycle") {
		t.Errorf("non-game prompt got game intents:\n%s", joined)
	}
	if !strings.Contains(joined, "markdown") {
		t.Errorf("generic intents missing:\n%s", joined)
	}
}

func TestTaskForRoundRobin(t *testing.T) {
	tasks := Decompose("anything", nil)
	for i := 0; i < 6; i++ {
		if got := taskFor(tasks, i); got.Prompt != "anything" {
			t.Fatalf("slot %d got %+v", i, got)
		}
	}
}
