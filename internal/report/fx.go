package report

import (
	"github.com/smallbiznis/destiny/internal/report/cache"
	"github.com/smallbiznis/destiny/internal/report/repository"
	"github.com/smallbiznis/destiny/internal/report/service"
	"go.uber.org/fx"
)

var Module = fx.Module("report.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewStore),
	fx.Provide(service.NewService),
)
