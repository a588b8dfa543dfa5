package source

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// DefaultBaseImage is used when no base image is configured.
const DefaultBaseImage = "continuumio/miniconda3:latest"

var dockerfileTemplate = template.Must(template.New("Dockerfile").Parse(`FROM {{ .BaseImage }} AS miniconda
RUN conda install conda-forge::conda-project --yes && conda clean --all --yes

FROM miniconda AS conda-project

ENV TZ=US/Central
RUN cp /usr/share/zoneinfo/${TZ} /etc/localtime \
    && echo ${TZ} > /etc/timezone

ENV PYTHONDONTWRITEBYTECODE=1
ENV PIP_NO_CACHE_DIR=1
ENV PATH=/opt/conda/bin:$PATH
ENV HOME=/project

COPY . /project
RUN chown -R 1001:1001 /project
{{ range .Commands }}
RUN {{ . }}{{ end }}

USER 1001
WORKDIR /project
RUN ["conda", "project", "prepare", "--force"]

ENTRYPOINT ["conda", "project", "run"]
CMD []
`))

// RenderDockerfile produces the default Dockerfile, inserting each custom command as a RUN line.
func RenderDockerfile(baseImage string, commands []string) (string, error) {
	if strings.TrimSpace(baseImage) == "" {
		baseImage = DefaultBaseImage
	}
	cleaned := make([]string, 0, len(commands))
	for _, cmd := range commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if strings.ContainsAny(cmd, "\r\n") {
			return "", fmt.Errorf("custom command %q spans multiple lines", cmd)
		}
		cleaned = append(cleaned, cmd)
	}
	var buf bytes.Buffer
	err := dockerfileTemplate.Execute(&buf, struct {
		BaseImage string
		Commands  []string
	}{baseImage, cleaned})
	if err != nil {
		return "", fmt.Errorf("render dockerfile: %w", err)
	}
	return buf.String(), nil
}
