package constants

type LanguageType string

const (
	LanguageC      LanguageType = "c"
	LanguageCpp    LanguageType = "cpp"
	LanguageGo     LanguageType = "go"
	LanguagePython LanguageType = "python"
	LanguageRust   LanguageType = "rust"
)

// AdapterPreset 各语言默认使用的调试适配器
type AdapterPreset struct {
	AdapterID string
	Command   string
	Args      []string
}

// AdapterPresets maps a language to a stdio debug adapter that is commonly installed for it.
var AdapterPresets = map[LanguageType]AdapterPreset{
	LanguageGo:     {AdapterID: "go", Command: "dlv", Args: []string{"dap"}},
	LanguagePython: {AdapterID: "debugpy", Command: "python3", Args: []string{"-m", "debugpy.adapter"}},
	LanguageC:      {AdapterID: "lldb", Command: "lldb-dap"},
	LanguageCpp:    {AdapterID: "lldb", Command: "lldb-dap"},
	LanguageRust:   {AdapterID: "lldb", Command: "lldb-dap"},
}

// LookupAdapterPreset returns a copy of the preset for language.
func LookupAdapterPreset(language LanguageType) (AdapterPreset, bool) {
	p, ok := AdapterPresets[language]
	if !ok {
		return AdapterPreset{}, false
	}
	p.Args = append([]string(nil), p.Args...)
	return p, true
}
