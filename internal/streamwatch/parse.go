package streamwatch

import "encoding/json"

// parseLine parses one newly-appended recording line as either a
// [elapsed, type, data] event or an ["exit", code, id] trailer. ok is
// false for anything else (blank lines, the header line re-seen after
// truncation, malformed JSON).
func parseLine(line []byte) (frame Frame, isExit bool, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil || len(raw) != 3 {
		return Frame{}, false, false
	}

	var tag string
	if err := json.Unmarshal(raw[0], &tag); err == nil && tag == "exit" {
		return Frame{}, true, true
	}

	var elapsed float64
	var typ, data string
	if err := json.Unmarshal(raw[0], &elapsed); err != nil {
		return Frame{}, false, false
	}
	if err := json.Unmarshal(raw[1], &typ); err != nil {
		return Frame{}, false, false
	}
	if err := json.Unmarshal(raw[2], &data); err != nil {
		return Frame{}, false, false
	}
	return Frame{Elapsed: elapsed, Type: typ, Data: data}, false, true
}
