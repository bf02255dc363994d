package protocol

/**
Payload shapes for the actions spoken between layers. Wrappers and tiers
share 'log' and 'stop'; the remainder are serviced by tiers ('spec',
'register', 'update', 'complete', 'children', 'get_tree') or by wrappers
('metric').
*/

type LogPayload struct {
	Timestamp int64  `json:"timestamp"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

type SpecRequest struct {
	Ident string `json:"ident"`
}

type SpecResponse struct {
	Spec string `json:"spec"`
}

type RegisterPayload struct {
	Ident  string `json:"ident"`
	Server string `json:"server"`
}

type UpdatePayload struct {
	Ident   string           `json:"ident"`
	Metrics map[string]int64 `json:"metrics"`
}

type CompletePayload struct {
	Ident   string           `json:"ident"`
	Result  string           `json:"result"`
	Code    int              `json:"code"`
	Metrics map[string]int64 `json:"metrics"`
	DbFile  string           `json:"db_file,omitempty"`
}

type MetricPayload struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type ChildSummary struct {
	State     string           `json:"state"`
	Result    string           `json:"result"`
	Server    string           `json:"server"`
	Metrics   map[string]int64 `json:"metrics"`
	ExitCode  int              `json:"exitcode"`
	Started   int64            `json:"started"`
	Updated   int64            `json:"updated"`
	Completed int64            `json:"completed"`
}

type GetMessagesRequest struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

type MessageEntry struct {
	Uid       int64  `json:"uid"`
	Severity  int    `json:"severity"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type GetMessagesResponse struct {
	Messages []MessageEntry `json:"messages"`
	Total    int64          `json:"total"`
	Live     bool           `json:"live"`
}
