package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/config"
	"github.com/zoeyai/zoeyreader/pkg/vision/ocr"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 命令行参数
	var (
		configPath    = flag.String("config", "", "配置文件路径 (默认 ~/.zoey-reader/config.json)")
		templatePath  = flag.String("template", "", "ROI 模板文件 (.json/.yaml)")
		monitor       = flag.Int("monitor", -1, "显示器索引")
		outDir        = flag.String("out", "", "会话输出目录")
		dryRun        = flag.Bool("dry-run", false, "只记录导航操作，不控制鼠标键盘")
		debug         = flag.Bool("debug", false, "保存调试截图和识别耗时")
		replay        = flag.String("replay", "", "使用已保存的全屏截图代替屏幕")
		saveState     = flag.String("save-state", "", "合并的存档 save_state.json")
		saveConfig    = flag.Bool("save", false, "保存配置到本地")
		checkOnly     = flag.Bool("check", false, "只做启动检查并打印阶段计划")
		installModels = flag.Bool("install-models", false, "下载 PaddleOCR 模型")
		showVersion   = flag.Bool("version", false, "显示版本信息")
		showHelp      = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	// 显示版本
	if *showVersion {
		printVersion()
		return
	}

	// 显示帮助
	if *showHelp {
		printHelp()
		return
	}

	// 加载配置
	manager := config.NewManager()
	if *configPath != "" {
		manager = config.NewManagerWithFile(*configPath)
	}
	cfg, err := manager.LoadWithEnv()
	if err != nil {
		fmt.Printf("[WARN] 加载配置失败: %v\n", err)
	}

	// 命令行参数优先级高于配置文件
	if *templatePath != "" {
		cfg.TemplatePath = *templatePath
	}
	if *monitor >= 0 {
		cfg.Monitor = *monitor
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *debug {
		cfg.Debug = true
	}
	if *saveState != "" {
		cfg.SaveStatePath = *saveState
	}
	cfg.Validate()

	// 保存配置
	if *saveConfig {
		if err := manager.Save(cfg); err != nil {
			fmt.Printf("[WARN] 保存配置失败: %v\n", err)
		} else {
			fmt.Printf("[INFO] 配置已保存到 %s\n", manager.GetConfigFile())
		}
	}

	logger.Default().SetLevel(logger.ParseLevel(cfg.LogLevel))

	if *installModels {
		if err := installOCRModels(); err != nil {
			fmt.Printf("[ERROR] 模型下载失败: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// 打印启动信息
	fmt.Println("========================================")
	fmt.Printf("  Zoey Reader v%s\n", Version)
	fmt.Println("========================================")
	fmt.Printf("模板: %s\n", cfg.TemplatePath)
	fmt.Printf("引擎: %v\n", cfg.Engines)
	if cfg.DryRun {
		fmt.Println("模式: 演练 (不控制输入)")
	}
	fmt.Println()

	r := &runner{cfg: cfg, replay: *replay, checkOnly: *checkOnly}
	if err := r.run(); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		logger.Default().Close()
		os.Exit(1)
	}
	logger.Default().Close()
}

// installOCRModels 下载模型到用户模型目录
func installOCRModels() error {
	installer := ocr.NewModelInstaller("")
	if installer.Installed() {
		fmt.Println("[INFO] 模型已安装")
		return nil
	}

	last := -1
	installer.SetProgressCallback(func(p float64) {
		if n := int(p) / 10; n != last {
			last = n
			fmt.Printf("[INFO] 下载进度 %3.0f%%\n", p)
		}
	})

	fmt.Printf("[INFO] 正在下载模型到 %s\n", ocr.UserModelDir())
	if err := installer.Install(context.Background()); err != nil {
		return err
	}
	fmt.Println("[INFO] 模型下载完成")
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("Zoey Reader v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("Zoey Reader - 游戏画面数值读取工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  zoeyreader [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string      配置文件路径")
	fmt.Println("  -template string    ROI 模板文件 (.json/.yaml)")
	fmt.Println("  -monitor int        显示器索引")
	fmt.Println("  -out string         会话输出目录")
	fmt.Println("  -dry-run            只记录导航操作，不控制鼠标键盘")
	fmt.Println("  -debug              保存调试截图和识别耗时")
	fmt.Println("  -replay string      使用已保存的全屏截图代替屏幕")
	fmt.Println("  -save-state string  合并的存档 save_state.json")
	fmt.Println("  -save               保存配置到本地")
	fmt.Println("  -check              只做启动检查并打印阶段计划")
	fmt.Println("  -install-models     下载 PaddleOCR 模型")
	fmt.Println("  -version            显示版本信息")
	fmt.Println("  -help               显示帮助信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 读取第二个显示器上的游戏画面")
	fmt.Println("  zoeyreader -monitor 1 -template templates/rois.yaml")
	fmt.Println()
	fmt.Println("  # 检查模板和识别引擎，不操作游戏")
	fmt.Println("  zoeyreader -check")
	fmt.Println()
	fmt.Println("  # 用保存的截图重新识别并保存调试图像")
	fmt.Println("  zoeyreader -replay screen.png -debug")
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Printf("  %s %s %s\n", config.EnvTemplate, config.EnvMonitor, config.EnvFloor)
	fmt.Printf("  %s %s %s\n", config.EnvWorkers, config.EnvPublish, config.EnvLogLevel)
	fmt.Printf("  %s\n", config.EnvSave)
	fmt.Println()
	fmt.Printf("配置文件位置: %s\n", config.NewManager().GetConfigFile())
	fmt.Printf("模型目录: %s\n", ocr.UserModelDir())
}
