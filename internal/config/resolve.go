package config

// Overrides are the directives found in an inbound message; zero values mean "not given".
type Overrides struct {
	ClientID   *int64
	BankName   string
	HeaderRow  *int
	SheetNames []string
	Password   string
}

// Settings is the effective per-message configuration.
type Settings struct {
	ClientID     int64
	BankName     string
	HeaderRow    int
	DetectTables bool
	SheetNames   []string
	Password     string
}

// Resolve merges message overrides, the bank section and global defaults, most specific first.
// Client id and bank code fall back to the source's defaults before the global level.
func (c Config) Resolve(src SourceConfig, meta Overrides) Settings {
	s := Settings{
		ClientID:     src.ClientID,
		BankName:     src.DefaultBank,
		HeaderRow:    c.Ingest.DefaultHeaderRow,
		DetectTables: c.Ingest.DetectTables,
		SheetNames:   c.Ingest.DefaultSheetNames,
		Password:     c.Ingest.DefaultPassword,
	}
	if meta.ClientID != nil {
		s.ClientID = *meta.ClientID
	}
	if code := BankCode(meta.BankName); code != "" {
		s.BankName = code
	}

	if bank, ok := c.Banks[s.BankName]; ok && s.BankName != "" {
		if bank.HeaderRow != nil {
			s.HeaderRow = *bank.HeaderRow
		}
		if bank.DetectTables != nil {
			s.DetectTables = *bank.DetectTables
		}
		if len(bank.SheetNames) > 0 {
			s.SheetNames = bank.SheetNames
		}
		if bank.Password != "" {
			s.Password = bank.Password
		}
	}

	if meta.HeaderRow != nil {
		s.HeaderRow = *meta.HeaderRow
		s.DetectTables = false
	}
	if len(meta.SheetNames) > 0 {
		s.SheetNames = meta.SheetNames
	}
	if meta.Password != "" {
		s.Password = meta.Password
	}
	return s
}
