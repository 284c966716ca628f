// Package config loads countwatch.yaml.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Swarm   SwarmConfig   `yaml:"swarm"`
	Storage StorageConfig `yaml:"storage"`
	Report  ReportConfig  `yaml:"report"`
}

type PathsConfig struct {
	TrainData   string `yaml:"train_data"`
	GoodData    string `yaml:"good_data"`
	BadData     string `yaml:"bad_data"`
	TrainOutput string `yaml:"train_output"`
	TestOutput  string `yaml:"test_output"`
	ModelParams string `yaml:"model_params"`
	ModelSave   string `yaml:"model_save"`
	SwarmWork   string `yaml:"swarm_work"`
	RunIndex    string `yaml:"run_index"`
	LockFile    string `yaml:"lock_file"`
}

// SwarmConfig tunes the swarm stage. The tune_* keys configure the
// hill-climb that refines large swarms; zero values keep the swarm defaults.
type SwarmConfig struct {
	MaxWorkers            int      `yaml:"max_workers"`
	Overwrite             *bool    `yaml:"overwrite"`
	Seed                  int64    `yaml:"seed"`
	RefineAttempts        int      `yaml:"refine_attempts"`
	TuneSelection         string   `yaml:"tune_selection"`
	TuneSteps             int      `yaml:"tune_steps"`
	TuneStepSize          float64  `yaml:"tune_step_size"`
	TunePerturbationRange float64  `yaml:"tune_perturbation_range"`
	TuneAnnealingFactor   float64  `yaml:"tune_annealing_factor"`
	TuneMinImprovement    float64  `yaml:"tune_min_improvement"`
	TuneGoalScore         *float64 `yaml:"tune_goal_score"`
}

type StorageConfig struct {
	Kind string `yaml:"kind"` // memory or sqlite; empty picks the build default
	Path string `yaml:"path"`
}

type ReportConfig struct {
	ProgressEvery int    `yaml:"progress_every"`
	Plot          bool   `yaml:"plot"`
	PlotPath      string `yaml:"plot_path"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		for _, p := range []string{"countwatch.yaml", "configs/countwatch.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// OverwriteEnabled reports whether swarm.overwrite is on; it defaults to true.
func (c SwarmConfig) OverwriteEnabled() bool {
	return c.Overwrite == nil || *c.Overwrite
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Paths.TrainData, "fileData.csv")
	setDefault(&cfg.Paths.GoodData, "fileDataGOOD.csv")
	setDefault(&cfg.Paths.BadData, "fileDataBAD.csv")
	setDefault(&cfg.Paths.TrainOutput, "fileData_train.csv")
	setDefault(&cfg.Paths.TestOutput, "fileData_test.csv")
	setDefault(&cfg.Paths.ModelParams, "modelParams.yaml")
	setDefault(&cfg.Paths.ModelSave, "modelSave")
	setDefault(&cfg.Paths.SwarmWork, "swarmTemp")
	setDefault(&cfg.Paths.RunIndex, "runs")
	setDefault(&cfg.Paths.LockFile, ".countwatch.lock")
	if cfg.Swarm.MaxWorkers <= 0 {
		cfg.Swarm.MaxWorkers = 8
	}
	if cfg.Swarm.RefineAttempts <= 0 {
		cfg.Swarm.RefineAttempts = 12
	}
	setDefault(&cfg.Storage.Path, "countwatch.db")
	if cfg.Report.ProgressEvery <= 0 {
		cfg.Report.ProgressEvery = 100
	}
	setDefault(&cfg.Report.PlotPath, "fileData_test.png")
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
