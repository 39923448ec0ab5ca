package process

import (
	"context"
	"errors"
	"os"
	"testing"
)

func withProcesses(t *testing.T, procs []Info) {
	t.Helper()
	old := lister
	lister = func(context.Context) ([]Info, error) { return procs, nil }
	t.Cleanup(func() { lister = old })
}

func TestFind(t *testing.T) {
	withProcesses(t, []Info{
		{PID: 1, Name: "launcher-game.exe"},
		{PID: 2, Name: "Game.exe"},
		{PID: 3, Name: "explorer.exe"},
	})

	tests := []struct {
		query string
		want  []int
	}{
		{"game", []int{2, 1}},
		{"GAME.EXE", []int{2, 1}},
		{"explorer", []int{3}},
		{"steam", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Find(context.Background(), tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("匹配 %d 个, 期望 %d 个: %+v", len(got), len(tt.want), got)
			}
			for i, p := range got {
				if p.PID != tt.want[i] {
					t.Errorf("第 %d 个 PID = %d, 期望 %d", i, p.PID, tt.want[i])
				}
			}
		})
	}
}

func TestRequire(t *testing.T) {
	withProcesses(t, []Info{{PID: 7, Name: "game"}})

	if p, err := Require(context.Background(), "game"); err != nil || p.PID != 7 {
		t.Errorf("Require = %+v, %v", p, err)
	}
	if _, err := Require(context.Background(), "other"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("错误 = %v, 期望 ErrNotRunning", err)
	}
	if _, err := Require(context.Background(), "  "); err == nil {
		t.Error("空进程名应报错")
	}
}

func TestListSelf(t *testing.T) {
	procs, err := listProcesses(context.Background())
	if err != nil {
		t.Skipf("无法枚举进程: %v", err)
	}
	self := os.Getpid()
	for _, p := range procs {
		if p.PID == self {
			t.Logf("当前进程: %s", p.Name)
			if !IsRunning(context.Background(), self) {
				t.Error("当前进程应在运行")
			}
			return
		}
	}
	t.Error("进程列表中没有当前进程")
}
