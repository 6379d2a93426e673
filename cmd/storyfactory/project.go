package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/factory"
)

// projectFile is the YAML shape accepted by "project create".
type projectFile struct {
	Genre                domain.Genre     `yaml:"genre"`
	MainCharacter        string           `yaml:"main_character"`
	TotalPlannedChapters int              `yaml:"total_planned_chapters"`
	TargetChapterLength  int              `yaml:"target_chapter_length"`
	Blueprint            domain.Blueprint `yaml:"blueprint"`
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage production projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <definition.yaml>",
	Short: "Create a project from a definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading definition: %w", err)
		}
		var def projectFile
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parsing definition: %w", err)
		}
		if def.MainCharacter == "" || def.TotalPlannedChapters <= 0 {
			return fmt.Errorf("definition needs main_character and total_planned_chapters")
		}

		f, err := factory.New(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer f.Close()

		project := &domain.Project{
			ID:                   uuid.NewString(),
			NovelID:              uuid.NewString(),
			Genre:                def.Genre,
			MainCharacter:        def.MainCharacter,
			TotalPlannedChapters: def.TotalPlannedChapters,
			TargetChapterLength:  def.TargetChapterLength,
			Status:               domain.ProjectActive,
		}
		ctx := cmd.Context()
		if err := f.Store().CreateProject(ctx, project); err != nil {
			return fmt.Errorf("creating project: %w", err)
		}

		def.Blueprint.ProjectID = project.ID
		if def.Blueprint.MainCharacterName == "" {
			def.Blueprint.MainCharacterName = def.MainCharacter
		}
		if err := f.Store().SaveBlueprint(ctx, &def.Blueprint); err != nil {
			return fmt.Errorf("saving blueprint: %w", err)
		}

		fmt.Println(project.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := factory.New(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer f.Close()

		projects, err := f.Store().ListActiveProjects(cmd.Context(), 100)
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\t%d/%d\t%s\n",
				p.ID, p.Genre, p.CurrentChapter, p.TotalPlannedChapters, p.Status)
		}
		return nil
	},
}

var factoryCmd = &cobra.Command{
	Use:   "factory on|off",
	Short: "Switch fleet production on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var running bool
		switch args[0] {
		case "on":
			running = true
		case "off":
			running = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}

		f, err := factory.New(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := f.Store().SetFactoryRunning(cmd.Context(), running); err != nil {
			return err
		}
		fmt.Printf("factory %s\n", args[0])
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd, factoryCmd)
}
