package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/auto/navigate"
	"github.com/zoeyai/zoeyreader/pkg/auto/screen"
	"github.com/zoeyai/zoeyreader/pkg/auto/window"
	"github.com/zoeyai/zoeyreader/pkg/config"
	"github.com/zoeyai/zoeyreader/pkg/permissions"
	"github.com/zoeyai/zoeyreader/pkg/phase"
	"github.com/zoeyai/zoeyreader/pkg/pipeline"
	"github.com/zoeyai/zoeyreader/pkg/process"
	"github.com/zoeyai/zoeyreader/pkg/publish"
	"github.com/zoeyai/zoeyreader/pkg/session"
	"github.com/zoeyai/zoeyreader/pkg/state"
	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/vision/cards"
	"github.com/zoeyai/zoeyreader/pkg/vision/ocr"
	"github.com/zoeyai/zoeyreader/pkg/vision/preprocess"
)

// runner 一次读取会话的启动参数
type runner struct {
	cfg       *config.ReaderConfig
	replay    string
	checkOnly bool
}

func (r *runner) run() error {
	cfg := r.cfg
	ctx := context.Background()

	// 显示器与采集后端
	bounds, capturer, err := r.openSource()
	if err != nil {
		return err
	}

	// 游戏进程，窗口化时画面范围取窗口客户区
	var game *process.Info
	if cfg.GameProcess != "" && r.replay == "" {
		info, err := process.Require(ctx, cfg.GameProcess)
		if err != nil {
			return err
		}
		fmt.Printf("[INFO] 游戏进程: %s (pid %d)\n", info.Name, info.PID)
		game = &info
		if client, ok := window.Locate(info.PID, bounds); ok {
			bounds = client
		} else {
			fmt.Println("[WARN] 未找到游戏窗口客户区，使用显示器范围")
		}
	}
	tag := template.ResolutionTag(bounds.Dx(), bounds.Dy())
	fmt.Printf("[INFO] 画面范围: %v (%s)\n", bounds, tag)

	// 模板
	tf, err := template.Load(cfg.TemplatePath)
	if err != nil {
		return err
	}
	coll, used, err := tf.Select(tag)
	if err != nil {
		return err
	}
	if used != tag {
		fmt.Printf("[WARN] 模板没有 %s 的集合，使用 %s\n", tag, used)
	}
	steps, err := phase.Plan(tf, coll, bounds)
	if err != nil {
		return err
	}

	// 存档中的行动：跳过画面不会变化的阶段，输出 enriched 文档
	var actions state.Actions
	if cfg.SaveStatePath != "" {
		a, err := state.LoadSaveState(cfg.SaveStatePath)
		if err != nil {
			fmt.Printf("[WARN] %v，使用 simple 导出\n", err)
		} else {
			actions = a
			steps = phase.SkipIdle(steps, a.Counts())
			fmt.Printf("[INFO] 存档行动 %d 条，读取 %d 个阶段\n", a.Total(), len(steps))
		}
	}

	// 识别引擎
	models := ocr.DefaultConfig().Override(ocr.Config{
		OnnxRuntimeLibPath: cfg.OCR.OnnxRuntimeLibPath,
		DetModelPath:       cfg.OCR.DetModelPath,
		RecModelPath:       cfg.OCR.RecModelPath,
		DictPath:           cfg.OCR.DictPath,
	})
	engines, err := ocr.Open(cfg.Engines, ocr.Options{
		Models:            models,
		NeuralConcurrency: cfg.NeuralConcurrency,
		TesseractLanguage: cfg.TesseractLanguage,
	})
	if err != nil {
		return err
	}
	defer engines.Close()

	if r.checkOnly {
		printPlan(steps, engines.Names())
		fmt.Println("[INFO] 启动检查通过")
		return nil
	}

	if game != nil {
		if err := process.Focus(*game); err != nil {
			fmt.Printf("[WARN] 激活游戏窗口失败: %v\n", err)
		}
	}

	// 会话
	startedAt := time.Now()
	sess, err := session.Create(cfg.OutputDir, startedAt, len(steps), cfg.Debug)
	if err != nil {
		return err
	}
	if err := logger.Default().SetFile(true, sess.LogPath()); err != nil {
		fmt.Printf("[WARN] %v\n", err)
	}

	pre := preprocess.New(preprocess.Band{Min: cfg.TextHeightMin, Max: cfg.TextHeightMax})
	orch := pipeline.New(coll, engines, pre, pipeline.Options{
		Workers:             cfg.Workers,
		Floor:               cfg.ConfidenceFloor,
		EarlyExitConfidence: cfg.EarlyExitConfidence,
		MinColourPixels:     cfg.MinColourPixels,
	})
	if obs := sess.Observer(); obs != nil {
		orch.SetObserver(obs)
	}
	locator := cards.NewLocator()
	defer locator.Close()
	orch.SetCardLocator(locator)

	var driver navigate.Driver = navigate.RobotgoDriver{}
	if cfg.DryRun {
		driver = navigate.DryRunDriver{}
	}
	nav := navigate.New(tf.Navigation, coll, bounds, driver)

	ctrl := phase.New(nav, capturer, orch, phase.Options{
		NavigateTimeout: cfg.NavigateTimeout(),
		SettleDelay:     cfg.SettleDelay(),
	})
	ctrl.OnTransition(sess.OnTransition)
	ctrl.OnTransition(func(tr phase.Transition) {
		fmt.Printf("[STATUS] %s\n", session.StatusText(tr.To, tr.Phase))
	})

	// 发布
	var pub publish.Publisher
	if cfg.PublishAddr != "" {
		p, err := publish.New(cfg.PublishAddr)
		if err != nil {
			fmt.Printf("[WARN] 创建发布连接失败: %v\n", err)
		} else {
			pub = p
			defer pub.Close()
			sess.Progress().Subscribe(func(rec session.ProgressRecord) {
				pub.Progress(rec)
			})
		}
	}

	// Ctrl+C 转为协作式取消
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			fmt.Println()
			fmt.Println("[INFO] 正在取消，等待当前步骤结束...")
			ctrl.Cancel()
		case <-done:
		}
	}()

	fmt.Printf("[INFO] 开始读取，共 %d 个阶段，按 Ctrl+C 取消\n", len(steps))
	runErr := ctrl.Run(ctx, steps)

	// 输出
	snaps := ctrl.Snapshots()
	builder := state.NewBuilder(tag, startedAt)
	for _, s := range snaps {
		builder.Add(s)
	}
	builder.Add(ctrl.Interrupted())
	builder.Merge(actions)
	doc := builder.Build(session.StatusFor(ctrl.State()), ctrl.Err(), time.Now())

	if err := sess.WriteState(doc); err != nil {
		fmt.Printf("[ERROR] 写入游戏状态失败: %v\n", err)
	}
	if err := sess.WriteStats(snaps...); err != nil {
		fmt.Printf("[WARN] 写入统计失败: %v\n", err)
	}
	printSummary(snaps)

	if pub != nil {
		if m, err := doc.ToMap(); err != nil {
			fmt.Printf("[WARN] 转换游戏状态失败: %v\n", err)
		} else if err := pub.Publish(ctx, m); err != nil {
			fmt.Printf("[WARN] 发布游戏状态失败: %v\n", err)
		}
	}

	fmt.Printf("[INFO] 结果已保存到 %s\n", sess.Dir)
	if errors.Is(runErr, phase.ErrCancelled) {
		fmt.Println("[INFO] 会话已取消")
		return nil
	}
	return runErr
}

// openSource 确定画面范围和采集后端
// 回放模式下画面范围就是截图尺寸，导航强制为演练
func (r *runner) openSource() (image.Rectangle, phase.Capturer, error) {
	if r.replay != "" {
		c, err := screen.LoadImageCapturer(r.replay, image.Point{})
		if err != nil {
			return image.Rectangle{}, nil, err
		}
		r.cfg.DryRun = true
		fmt.Printf("[INFO] 回放截图: %s\n", r.replay)
		return image.Rectangle{Max: c.Size()}, c, nil
	}

	status := permissions.Check()
	missing := status.Missing(!r.cfg.DryRun)
	if r.checkOnly {
		// 启动检查时直接打开缺失权限的设置页面
		missing = status.Request(!r.cfg.DryRun)
	}
	if len(missing) > 0 {
		fmt.Println("[WARN] " + permissions.Instructions(missing))
		if !r.checkOnly {
			return image.Rectangle{}, nil, errors.New("缺少系统权限")
		}
	}

	d, err := screen.DisplayAt(r.cfg.Monitor)
	if err != nil {
		return image.Rectangle{}, nil, err
	}
	c, err := screen.NewCapturer(r.cfg.Capturer)
	if err != nil {
		return image.Rectangle{}, nil, err
	}
	fmt.Printf("[INFO] 显示器: %s\n", d)
	return d.Bounds, c, nil
}

// printPlan 打印阶段计划
func printPlan(steps []phase.Step, engines []string) {
	fmt.Printf("识别引擎: %v\n", engines)
	for _, s := range steps {
		fmt.Printf("阶段 %d -> %s (%d 个区域)\n", s.Number, s.Location, len(s.Targets))
		for _, t := range s.Targets {
			fmt.Printf("  %-24s %v\n", t.ROI, t.Rect)
		}
	}
}

// printSummary 打印各阶段识别结果数量
func printSummary(snaps []*pipeline.Snapshot) {
	for _, s := range snaps {
		resolved, unresolved := s.Counts()
		fmt.Printf("[INFO] 阶段 %d: 识别 %d, 未识别 %d\n", s.Phase, resolved, unresolved)
	}
}
