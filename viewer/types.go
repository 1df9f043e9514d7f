package viewer

// Event is the envelope of every websocket message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Board is a row-major snapshot of a game. Owner -1 marks an empty cell.
type Board struct {
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	Players    int     `json:"players"`
	Turn       int     `json:"turn"`
	Player     int     `json:"player"`
	Owners     []int32 `json:"owners"`
	Orbs       []int32 `json:"orbs"`
	PlayerOrbs []int   `json:"player_orbs,omitempty"`
}

// MovePlayed is one move of an episode.
type MovePlayed struct {
	Turn    int     `json:"turn"`
	Player  int     `json:"player"`
	Row     int     `json:"row"`
	Col     int     `json:"col"`
	Pi      float32 `json:"pi"`
	Outcome float32 `json:"outcome"`
}

// EpisodeSummary is broadcast for every completed episode.
type EpisodeSummary struct {
	ID         string       `json:"id"`
	Winner     int          `json:"winner"`
	Moves      int          `json:"moves"`
	DurationMs int64        `json:"duration_ms"`
	Final      Board        `json:"final"`
	History    []MovePlayed `json:"history"`
}

// EpisodesResponse is the response for /api/episodes.
type EpisodesResponse struct {
	Total    int64            `json:"total"`
	Episodes []EpisodeSummary `json:"episodes"`
}

// SearchRequest asks the server to search a position.
type SearchRequest struct {
	Board
	Sims  int     `json:"sims"`
	Cpuct float32 `json:"cpuct"`
	Depth int     `json:"depth"`
}

// MCTSMove is one edge in a search response.
type MCTSMove struct {
	Row   int       `json:"row"`
	Col   int       `json:"col"`
	N     int       `json:"n"`
	Q     float32   `json:"q"`
	P     float32   `json:"p"`
	UCB   float32   `json:"ucb"`
	Child *MCTSNode `json:"child,omitempty"`
}

// MCTSNode is a node in a search response.
type MCTSNode struct {
	VisitCount int        `json:"n"`
	Terminal   bool       `json:"terminal"`
	Moves      []MCTSMove `json:"moves"`
}

// SearchResponse is the response for /api/search.
type SearchResponse struct {
	Sims     int       `json:"sims"`
	Cpuct    float32   `json:"cpuct"`
	MaxDepth int       `json:"max_depth"`
	BestRow  int       `json:"best_row"`
	BestCol  int       `json:"best_col"`
	Root     *MCTSNode `json:"root"`
}
