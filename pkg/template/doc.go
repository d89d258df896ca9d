/*
Package template stubs the one external collaborator spec.md calls out by
name: the compiled-module registry. create_worker needs to turn a
TemplateId into a calling convention and a runnable Program; everything
about compiling, versioning or distributing the module itself is out of
core scope, so Registry just holds whatever Template values the operator
registered at startup.
*/
package template
