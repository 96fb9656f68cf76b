package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/breeze-rmm/reseed/internal/identity"
	"github.com/breeze-rmm/reseed/internal/logging"
)

// Tier 1. The minified main-process bundle resolves the machine id through
// a single switch-dispatch function. Prepending an early return of a
// per-call random UUID neutralizes every branch at once.
const (
	primaryPattern     = "function a$(t){switch"
	primaryReplacement = "function a$(t){return crypto.randomUUID(); switch"
)

type functionInjectPrimary struct{}

func (functionInjectPrimary) Name() string { return "function-inject-primary" }

func (functionInjectPrimary) Matches(content string) bool {
	return !AlreadyPatched(content) && strings.Contains(content, primaryPattern)
}

func (functionInjectPrimary) Apply(content string) (string, error) {
	if !strings.Contains(content, primaryPattern) {
		return "", fmt.Errorf("pattern %q not found", primaryPattern)
	}
	return strings.ReplaceAll(content, primaryPattern, primaryReplacement), nil
}

func (functionInjectPrimary) PostCondition() string { return primaryReplacement }

// Tier 2. Newer builds moved the lookup into an async helper; same
// early-return technique.
const (
	alternatePattern     = "async function v5(t){let e="
	alternateReplacement = "async function v5(t){return crypto.randomUUID(); let e="
)

type functionInjectAlternate struct{}

func (functionInjectAlternate) Name() string { return "function-inject-alternate" }

func (functionInjectAlternate) Matches(content string) bool {
	return !AlreadyPatched(content) && strings.Contains(content, alternatePattern)
}

func (functionInjectAlternate) Apply(content string) (string, error) {
	if !strings.Contains(content, alternatePattern) {
		return "", fmt.Errorf("pattern %q not found", alternatePattern)
	}
	return strings.ReplaceAll(content, alternatePattern, alternateReplacement), nil
}

func (functionInjectAlternate) PostCondition() string { return alternateReplacement }

// Tier 3. Some builds expose two named helpers, one per identifier. Each
// body is rewritten independently to return a fixed fresh value. The body
// match stops at the first closing brace, which holds for the minified
// single-expression bodies this tier targets.
var (
	macMachineIdRe = regexp.MustCompile(`async getMacMachineId\(\)\{[^{}]*\}`)
	deviceIdRe     = regexp.MustCompile(`async getDeviceId\(\)\{[^{}]*\}`)
)

type deviceFunctionOverride struct {
	ids identity.Set
}

func (*deviceFunctionOverride) Name() string { return "device-function-override" }

func (*deviceFunctionOverride) Matches(content string) bool {
	return !AlreadyPatched(content) &&
		macMachineIdRe.MatchString(content) &&
		deviceIdRe.MatchString(content)
}

func (s *deviceFunctionOverride) Apply(content string) (string, error) {
	if !macMachineIdRe.MatchString(content) || !deviceIdRe.MatchString(content) {
		return "", fmt.Errorf("device helper functions not found")
	}
	out := macMachineIdRe.ReplaceAllString(content,
		fmt.Sprintf("async getMacMachineId(){return %q}", s.ids.MacMachineID))
	out = deviceIdRe.ReplaceAllString(out,
		fmt.Sprintf("async getDeviceId(){return %q}", s.ids.DevDeviceID))
	return out, nil
}

func (s *deviceFunctionOverride) PostCondition() string {
	return fmt.Sprintf("async getMacMachineId(){return %q}", s.ids.MacMachineID)
}

// Tier 4. When no known function shape is present but the resource clearly
// probes the platform identifier store (ioreg's IOPlatformUUID on darwin,
// the MachineGuid registry value on windows), a self-contained generator is
// prepended and the known call sites are redirected to it. The generator
// needs no call-site rewrite to be safe, so zero rewrites is tolerated.
const (
	probeTokenDarwin  = "IOPlatformUUID"
	probeTokenWindows = "MachineGuid"

	wrapperName  = "__reseedFreshId"
	wrapperBlock = "function __reseedFreshId(){try{return require(\"crypto\").randomUUID()}catch(e){}" +
		"return \"xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx\".replace(/[xy]/g,function(c)" +
		"{var r=Math.random()*16|0;return(c===\"x\"?r:r&3|8).toString(16)})}\n"
)

var wrapperCallSites = []string{"this.getMachineId()", "this.getDeviceId()"}

type genericWrapperInject struct{}

func (genericWrapperInject) Name() string { return "generic-wrapper-inject" }

func (genericWrapperInject) Matches(content string) bool {
	if AlreadyPatched(content) {
		return false
	}
	return strings.Contains(content, probeTokenDarwin) || strings.Contains(content, probeTokenWindows)
}

func (genericWrapperInject) Apply(content string) (string, error) {
	rewritten := 0
	for _, call := range wrapperCallSites {
		if n := strings.Count(content, call); n > 0 {
			rewritten += n
			content = strings.ReplaceAll(content, call, wrapperName+"()")
		}
	}
	if rewritten == 0 {
		log.Warn("no identifier call sites rewritten, generator injected anyway",
			logging.KeyStrategy, "generic-wrapper-inject")
	}
	return wrapperBlock + content, nil
}

func (genericWrapperInject) PostCondition() string { return wrapperName }

// Tier 5, the catch-all. Prepends a module-loader interception that pins
// crypto.randomUUID and defines global getters for the four identifiers,
// each a fixed fresh per-run value. Matches any content that is not
// already patched.
type universalRequireIntercept struct {
	ids identity.Set
}

var universalCallSites = []struct {
	call, repl string
}{
	{"this.getMachineId()", "(globalThis.machineId)"},
	{"this.getDeviceId()", "(globalThis.devDeviceId)"},
}

func (*universalRequireIntercept) Name() string { return "universal-require-intercept" }

func (*universalRequireIntercept) Matches(content string) bool {
	return !AlreadyPatched(content)
}

func (s *universalRequireIntercept) Apply(content string) (string, error) {
	rewritten := 0
	for _, c := range universalCallSites {
		if n := strings.Count(content, c.call); n > 0 {
			rewritten += n
			content = strings.ReplaceAll(content, c.call, c.repl)
		}
	}
	if rewritten == 0 {
		log.Warn("no identifier call sites rewritten, override injected anyway",
			logging.KeyStrategy, "universal-require-intercept")
	}
	return s.interceptBlock() + content, nil
}

func (s *universalRequireIntercept) interceptBlock() string {
	return fmt.Sprintf("(function(){var __reseedIds={machineId:%q,macMachineId:%q,devDeviceId:%q,sqmId:%q};"+
		"try{var m=require(\"module\");var l=m._load;"+
		"m._load=function(request,parent,isMain){var exp=l.apply(this,arguments);"+
		"if(request===\"crypto\"&&exp&&typeof exp.randomUUID===\"function\")"+
		"{exp.randomUUID=function(){return __reseedIds.devDeviceId}}return exp}}catch(e){}"+
		"for(var k in __reseedIds){(function(key){try{Object.defineProperty(globalThis,key,"+
		"{get:function(){return __reseedIds[key]},configurable:true})}catch(e){}})(k)}})();\n",
		s.ids.MachineID, s.ids.MacMachineID, s.ids.DevDeviceID, s.ids.SqmID)
}

func (*universalRequireIntercept) PostCondition() string { return "__reseedIds" }

// Checksum tier. The update client sets its checksum header from two
// computed values; rewriting the second template operand to reuse the first
// collapses the header to a value derivable from the first operand alone.
// Carried as an upstream protocol assumption.
const (
	checksumPattern     = "(\"x-lumen-checksum\",e===void 0?`${g}${t}`:`${g}${t}/${e}`)"
	checksumReplacement = "(\"x-lumen-checksum\",e===void 0?`${g}${t}`:`${g}${t}/${g}`)"
)

type checksumRewrite struct{}

func (checksumRewrite) Name() string { return "checksum-rewrite" }

func (checksumRewrite) Matches(content string) bool {
	return !AlreadyPatched(content) && strings.Contains(content, checksumPattern)
}

func (checksumRewrite) Apply(content string) (string, error) {
	if !strings.Contains(content, checksumPattern) {
		return "", fmt.Errorf("checksum header literal not found")
	}
	return strings.ReplaceAll(content, checksumPattern, checksumReplacement), nil
}

func (checksumRewrite) PostCondition() string { return checksumReplacement }
