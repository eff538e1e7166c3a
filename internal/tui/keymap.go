package tui

// Key bindings used in handleKey.
const (
	KeyCtrlC       = "ctrl+c"
	KeyTab         = "tab"
	KeyEnter       = "enter"
	KeyEsc         = "esc"
	KeyBackspace   = "backspace"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyDictate     = "ctrl+r"
	KeyStopAndAsk  = "ctrl+a"
	KeySpeech      = "ctrl+s"
	KeyClear       = "ctrl+l"
	KeySample      = "ctrl+p"
	KeyClearInput  = "ctrl+u"
	KeyQuit        = "q"
	KeyJ           = "j"
	KeyK           = "k"
	KeyNewSession  = "n"
	KeyRename      = "r"
	KeyDelete      = "d"
	KeyConfirm     = "y"
	KeyRefresh     = "R"
)
