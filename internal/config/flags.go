package config

import (
	"flag"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-kdf-algorithm        KDF algorithm: "pbkdf2" or "argon2id"
//	-kdf-iterations       PBKDF2 iteration count
//	-fec-header-percent   header FEC redundancy percent
//	-fec-payload-percent  payload FEC redundancy percent
//	-fec-payload-enabled  enable payload FEC framing
//	-backup-dir           backup directory path
//	-backup-max           maximum retained backups
//	-require-token        require hardware token enrollment by policy
//	-min-password-length  minimum accepted password length
//	-password-history     password history depth
//	-c/-config            JSON file path with configs
func ParseFlags() *EngineConfig {
	var kdfAlgorithm string
	var kdfIterations uint
	var fecHeaderPercent uint
	var fecPayloadPercent uint
	var fecPayloadEnabled bool
	var backupDir string
	var backupMax int
	var requireToken bool
	var minPasswordLength int
	var passwordHistory int
	var jsonConfigPath string

	flag.StringVar(&kdfAlgorithm, "kdf-algorithm", "", "KDF algorithm: pbkdf2 or argon2id")
	flag.UintVar(&kdfIterations, "kdf-iterations", 0, "PBKDF2 iteration count")
	flag.UintVar(&fecHeaderPercent, "fec-header-percent", 0, "Header FEC redundancy percent")
	flag.UintVar(&fecPayloadPercent, "fec-payload-percent", 0, "Payload FEC redundancy percent")
	flag.BoolVar(&fecPayloadEnabled, "fec-payload-enabled", false, "Enable payload FEC framing")
	flag.StringVar(&backupDir, "backup-dir", "", "Backup directory path")
	flag.IntVar(&backupMax, "backup-max", 0, "Maximum retained backups")
	flag.BoolVar(&requireToken, "require-token", false, "Require hardware token enrollment by policy")
	flag.IntVar(&minPasswordLength, "min-password-length", 0, "Minimum accepted password length")
	flag.IntVar(&passwordHistory, "password-history", 0, "Password history depth")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")

	flag.Parse()

	return &EngineConfig{
		KDF: KDF{
			Algorithm:  kdfAlgorithm,
			Iterations: uint32(kdfIterations),
		},
		FEC: FEC{
			HeaderRedundancyPercent:  uint8(fecHeaderPercent),
			PayloadRedundancyEnabled: fecPayloadEnabled,
			PayloadRedundancyPercent: uint8(fecPayloadPercent),
		},
		Backup: Backup{
			Dir:        backupDir,
			MaxBackups: backupMax,
		},
		Policy: Policy{
			RequireToken:         requireToken,
			MinPasswordLength:    minPasswordLength,
			PasswordHistoryDepth: passwordHistory,
		},
		JSONFilePath: jsonConfigPath,
	}
}
