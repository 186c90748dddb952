package hardware

// AllStatusesResponse models GET /check-all-statuses.
type AllStatusesResponse struct {
	Success bool `json:"success"`
	Bays    []struct {
		Channel int    `json:"channel"`
		Status  string `json:"status"`
	} `json:"bays"`
	Error string `json:"error,omitempty"`
}

// StatusResponse models GET /check-status/{id}.
type StatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Channel int    `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CommandResponse models POST /open-locker.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type openRequest struct {
	LockerID int `json:"lockerId"`
}

type logRequest struct {
	Message string `json:"message"`
}
