package server

// Blinds is a table's forced-bet sizing.
type Blinds struct {
	Small int64 `json:"small"`
	Big   int64 `json:"big"`
}

// BuyInRange bounds the chips a player may sit down with.
type BuyInRange struct {
	Min     int64 `json:"min"`
	Max     int64 `json:"max"`
	Default int64 `json:"default"`
}

// LobbyTable is a directory entry describing one table.
type LobbyTable struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Blinds     Blinds     `json:"blinds"`
	BuyIn      BuyInRange `json:"buyInRange"`
	StakeLevel string     `json:"stakeLevel"`
}

// NewLobbyTable derives the standard buy-in range from the big blind:
// 20 big blinds minimum, 200 maximum, 100 by default.
func NewLobbyTable(id, name string, small, big int64, stake string) LobbyTable {
	return LobbyTable{
		ID:     id,
		Name:   name,
		Blinds: Blinds{Small: small, Big: big},
		BuyIn: BuyInRange{
			Min:     20 * big,
			Max:     200 * big,
			Default: 100 * big,
		},
		StakeLevel: stake,
	}
}

// DefaultDirectory is the static catalog loaded at server start; the
// engines for these tables are pre-created before the listener opens.
func DefaultDirectory() []LobbyTable {
	return []LobbyTable{
		NewLobbyTable("micro-1", "Driftwood", 1, 2, "micro"),
		NewLobbyTable("micro-2", "Sandbar", 2, 4, "micro"),
		NewLobbyTable("low-1", "Rivermouth", 5, 10, "low"),
		NewLobbyTable("low-2", "Breakwater", 10, 20, "low"),
		NewLobbyTable("mid-1", "Highcastle", 25, 50, "mid"),
		NewLobbyTable("high-1", "Northlight", 100, 200, "high"),
	}
}
