package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	"github.com/piyushsharma8821/scribbly-ai/internal/config"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	mysqlClient "github.com/piyushsharma8821/scribbly-ai/internal/platform/mysql"
	rabbitmqClient "github.com/piyushsharma8821/scribbly-ai/internal/platform/rabbitmq"
	redisClient "github.com/piyushsharma8821/scribbly-ai/internal/platform/redis"
	"github.com/piyushsharma8821/scribbly-ai/internal/repository"
	"github.com/piyushsharma8821/scribbly-ai/internal/worker"
)

const maxTagsPerNote = 8

type App struct {
	Config    *config.Config
	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	LLM       *ai.OpenAICompatibleClient
	TagWorker *worker.NoteTagWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	app := &App{Config: cfg, StartedAt: time.Now()}
	if err := app.open(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQL, cfg.App.Env)
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.Note{}, &model.Session{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = mqConn

	a.LLM = ai.NewOpenAICompatibleClient()
	tagger := ai.NewKeyPhraseExtractor(a.LLM, a.ChatConfig(), maxTagsPerNote)
	noteRepo := repository.NewNoteRepository(mysqlDB)
	a.TagWorker = worker.NewNoteTagWorker(mqConn, noteRepo, tagger, cfg.RabbitMQ.NoteTagQueue, a.RequestTimeout())
	if err := a.TagWorker.Start(ctx); err != nil {
		return fmt.Errorf("start note tag worker failed: %w", err)
	}
	return nil
}

// ChatConfig is the completion engine endpoint shared by chat and tagging.
func (a *App) ChatConfig() ai.ChatConfig {
	return ai.ChatConfig{
		BaseURL: a.Config.LLM.BaseURL,
		APIKey:  a.Config.LLM.APIKey,
		Model:   a.Config.LLM.Model,
	}
}

func (a *App) RequestTimeout() time.Duration {
	return time.Duration(a.Config.Chat.RequestTimeoutSeconds) * time.Second
}

func (a *App) Close() error {
	var closeErr error
	if a.TagWorker != nil {
		a.TagWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
