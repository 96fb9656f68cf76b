package lang

import (
	"os"
	"strings"
	"sync"
)

// Language is a supported UI language code.
type Language string

const (
	// CN is Simplified Chinese.
	CN Language = "cn"
	// EN is English.
	EN Language = "en"
)

// TextResource holds every translatable string. Messages that mention the
// target application take its display name through a %s verb.
type TextResource struct {
	// Success messages
	SuccessMessage string
	RestartMessage string
	RestoreDone    string
	UnblockDone    string

	// Progress messages
	LocatingResources string
	GeneratingIds     string
	CheckingProcesses string
	ClosingProcesses  string
	ProcessesClosed   string
	StagingBundle     string
	PatchingResources string
	SigningBundle     string
	InstallingBundle  string
	RollingBack       string
	PleaseWait        string

	// Error messages
	ErrorPrefix     string
	PrivilegeError  string
	NothingToPatch  string
	AlreadyPatched  string
	SigningDegraded string

	// Instructions
	RunAsAdmin         string
	RunWithSudo        string
	SudoExample        string
	PressEnterToExit   string
	SetReadOnlyMessage string
	UnblockHint        string

	// Interactive menu
	MenuTitle      string
	MenuRun        string
	MenuRunStorage string
	MenuStatus     string
	MenuRestore    string
	MenuUnblock    string
	MenuExit       string
	MenuPrompt     string
	MenuInvalid    string

	// Confirmation prompts
	DriftWarning            string
	DriftQuestion           string
	StorageReadOnlyQuestion string

	// Report rendering
	PatchedSummary       string
	RolledBackMessage    string
	UnrecoverableMessage string
	StagedLocation       string
	ManualSignCommand    string

	// Info messages
	ConfigLocation string
	BackupLocation string
	LogLocation    string
}

var (
	currentLanguage     Language
	currentLanguageOnce sync.Once
	languageMutex       sync.RWMutex
)

// GetCurrentLanguage returns the current language, detecting it on first use.
func GetCurrentLanguage() Language {
	currentLanguageOnce.Do(func() {
		currentLanguage = detectLanguage()
	})

	languageMutex.RLock()
	defer languageMutex.RUnlock()
	return currentLanguage
}

// SetLanguage overrides the detected language.
func SetLanguage(lang Language) {
	languageMutex.Lock()
	defer languageMutex.Unlock()
	currentLanguage = lang
}

// GetText returns the TextResource for the current language.
func GetText() TextResource {
	return texts[GetCurrentLanguage()]
}

// detectLanguage inspects locale environment variables only. Shelling out to
// locale tools from a detection path is not worth the failure modes, so a
// host without LANG set simply gets English.
func detectLanguage() Language {
	for _, envVar := range []string{"LC_ALL", "LC_MESSAGES", "LANG", "LANGUAGE"} {
		if v := os.Getenv(envVar); v != "" && strings.Contains(strings.ToLower(v), "zh") {
			return CN
		}
	}
	return EN
}

// texts contains all translations.
var texts = map[Language]TextResource{
	EN: {
		SuccessMessage: "[√] Device identity reset completed successfully!",
		RestartMessage: "[!] Please start %s manually to verify the new identity",
		RestoreDone:    "[√] Restored backup from %s",
		UnblockDone:    "[√] Removed quarantine attribute from %d files",

		LocatingResources: "Locating patchable resources...",
		GeneratingIds:     "Generating new identifiers...",
		CheckingProcesses: "Checking for running %s instances...",
		ClosingProcesses:  "Closing %s instances...",
		ProcessesClosed:   "All %s instances have been closed",
		StagingBundle:     "Staging a working copy of the bundle...",
		PatchingResources: "Patching identifier lookups...",
		SigningBundle:     "Re-signing the patched bundle...",
		InstallingBundle:  "Installing the patched bundle...",
		RollingBack:       "Installation failed, restoring the original bundle...",
		PleaseWait:        "Please wait...",

		ErrorPrefix:     "Program encountered a serious error: %v",
		PrivilegeError:  "\n[!] Error: Administrator privileges required",
		NothingToPatch:  "No known identifier lookup matched; the %s version may be unsupported",
		AlreadyPatched:  "Resources are already patched; nothing to do",
		SigningDegraded: "[!] Re-signing failed after %d attempts; the patched bundle was NOT installed",

		RunAsAdmin:         "Please right-click and select 'Run as Administrator'",
		RunWithSudo:        "Please run this program with sudo",
		SudoExample:        "Example: sudo %s",
		PressEnterToExit:   "\nPress Enter to exit...",
		SetReadOnlyMessage: "Set storage.json to read-only mode, which will cause issues such as lost workspace records",
		UnblockHint:        "If macOS refuses to launch the app, run: reseed unblock",

		MenuTitle:      "Device Identity Reseed for %s",
		MenuRun:        "Reset device identity (patch bundle)",
		MenuRunStorage: "Reset device identity and rewrite storage.json",
		MenuStatus:     "Show patch status",
		MenuRestore:    "Restore the most recent backup",
		MenuUnblock:    "Remove quarantine flags (fix 'damaged app')",
		MenuExit:       "Exit",
		MenuPrompt:     "Select an option",
		MenuInvalid:    "Invalid selection, please enter a number from the menu",

		DriftWarning:            "Installed version %s is newer than the last verified %s; fallback patch tiers may apply",
		DriftQuestion:           "Continue anyway?",
		StorageReadOnlyQuestion: "Pin storage.json read-only after rewriting?",

		PatchedSummary:       "Patched %d of %d resources",
		RolledBackMessage:    "[!] Installation failed; the original bundle was restored from backup",
		UnrecoverableMessage: "[!] Installation AND rollback failed; manual intervention required",
		StagedLocation:       "Staged bundle location:",
		ManualSignCommand:    "Sign it manually, then copy it over the installed app:",

		ConfigLocation: "Config file location:",
		BackupLocation: "Backup location:",
		LogLocation:    "Run log location:",
	},
	CN: {
		SuccessMessage: "[√] 设备标识重置成功!",
		RestartMessage: "[!] 请手动启动 %s 以验证新的标识",
		RestoreDone:    "[√] 已从 %s 恢复备份",
		UnblockDone:    "[√] 已移除 %d 个文件的隔离属性",

		LocatingResources: "正在定位可修补的资源文件...",
		GeneratingIds:     "正在生成新的标识符...",
		CheckingProcesses: "正在检查运行中的 %s 实例...",
		ClosingProcesses:  "正在关闭 %s 实例...",
		ProcessesClosed:   "所有 %s 实例已关闭",
		StagingBundle:     "正在暂存应用副本...",
		PatchingResources: "正在修补标识符读取逻辑...",
		SigningBundle:     "正在重新签名修补后的应用...",
		InstallingBundle:  "正在安装修补后的应用...",
		RollingBack:       "安装失败，正在恢复原始应用...",
		PleaseWait:        "请稍候...",

		ErrorPrefix:     "程序发生严重错误: %v",
		PrivilegeError:  "\n[!] 错误：需要管理员权限",
		NothingToPatch:  "没有匹配到已知的标识符读取逻辑，%s 版本可能不受支持",
		AlreadyPatched:  "资源文件已修补，无需操作",
		SigningDegraded: "[!] 重新签名 %d 次均失败，修补后的应用未安装",

		RunAsAdmin:         "请右键点击程序，选择「以管理员身份运行」",
		RunWithSudo:        "请使用 sudo 运行此程序",
		SudoExample:        "示例: sudo %s",
		PressEnterToExit:   "\n按回车键退出程序...",
		SetReadOnlyMessage: "设置 storage.json 为只读模式，这将导致 workspace 记录丢失等问题",
		UnblockHint:        "如果 macOS 拒绝启动应用，请运行: reseed unblock",

		MenuTitle:      "%s 设备标识重置工具",
		MenuRun:        "重置设备标识（修补应用）",
		MenuRunStorage: "重置设备标识并重写 storage.json",
		MenuStatus:     "查看修补状态",
		MenuRestore:    "恢复最近一次备份",
		MenuUnblock:    "移除隔离属性（修复「应用已损坏」）",
		MenuExit:       "退出",
		MenuPrompt:     "请选择操作",
		MenuInvalid:    "无效选项，请输入菜单中的数字",

		DriftWarning:            "已安装版本 %s 高于最后验证的版本 %s，可能使用后备修补规则",
		DriftQuestion:           "是否继续？",
		StorageReadOnlyQuestion: "重写后是否将 storage.json 设为只读？",

		PatchedSummary:       "已修补 %d/%d 个资源文件",
		RolledBackMessage:    "[!] 安装失败，已从备份恢复原始应用",
		UnrecoverableMessage: "[!] 安装和回滚均失败，需要手动处理",
		StagedLocation:       "暂存应用位置:",
		ManualSignCommand:    "请手动签名后，将其复制到安装位置:",

		ConfigLocation: "配置文件位置:",
		BackupLocation: "备份位置:",
		LogLocation:    "运行日志位置:",
	},
}
