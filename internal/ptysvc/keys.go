package ptysvc

// specialKeys maps the named keys sendInput accepts to the ANSI byte
// sequences written to the PTY.
var specialKeys = map[string]string{
	"arrow_up":    "\x1b[A",
	"arrow_down":  "\x1b[B",
	"arrow_right": "\x1b[C",
	"arrow_left":  "\x1b[D",
	"escape":      "\x1b",
	"enter":       "\r",
	"ctrl_enter":  "\n",
	"shift_enter": "\r\n",
}
